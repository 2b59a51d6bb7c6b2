// Package dynamock is an in-memory DynamoDB fake for unit tests. It models
// just enough of the API the stores use: keyed tables, conditional puts,
// if_not_exists/ADD update expressions, key-equality queries, batch gets and
// conditional transactions, plus per-operation call counters.
package dynamock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type table struct {
	keyAttrs []string
	items    map[string]map[string]types.AttributeValue
}

// DB is the fake. Register tables with AddTable before use.
type DB struct {
	mu     sync.Mutex
	tables map[string]*table

	// FailWith, when set, makes every call return that error.
	FailWith error

	PutCalls      int
	GetCalls      int
	UpdateCalls   int
	QueryCalls    int
	BatchGetCalls int
	TransactCalls int
}

// New returns an empty DB.
func New() *DB {
	return &DB{tables: map[string]*table{}}
}

// AddTable registers a table with its key attributes (partition key, then
// optional sort key).
func (d *DB) AddTable(name string, keyAttrs ...string) {
	d.tables[name] = &table{
		keyAttrs: keyAttrs,
		items:    map[string]map[string]types.AttributeValue{},
	}
}

// Seed stores an item directly, bypassing conditions and counters.
func (d *DB) Seed(tableName string, item map[string]types.AttributeValue) {
	t := d.tables[tableName]
	t.items[t.keyOf(item)] = item
}

// Len returns the number of items in a table.
func (d *DB) Len(tableName string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tables[tableName].items)
}

// Item fetches a stored item by its key attribute values, or nil.
func (d *DB) Item(tableName string, keyValues ...string) map[string]types.AttributeValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tables[tableName].items[strings.Join(keyValues, "|")]
}

func (t *table) keyOf(item map[string]types.AttributeValue) string {
	parts := make([]string, 0, len(t.keyAttrs))
	for _, attr := range t.keyAttrs {
		if s, ok := item[attr].(*types.AttributeValueMemberS); ok {
			parts = append(parts, s.Value)
		} else {
			parts = append(parts, "")
		}
	}
	return strings.Join(parts, "|")
}

func (d *DB) table(name *string) (*table, error) {
	if name == nil {
		return nil, errors.New("dynamock: nil table name")
	}
	t, ok := d.tables[*name]
	if !ok {
		return nil, fmt.Errorf("dynamock: unknown table %q", *name)
	}
	return t, nil
}

func (d *DB) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.PutCalls++
	if d.FailWith != nil {
		return nil, d.FailWith
	}
	t, err := d.table(params.TableName)
	if err != nil {
		return nil, err
	}
	key := t.keyOf(params.Item)
	if params.ConditionExpression != nil && strings.HasPrefix(*params.ConditionExpression, "attribute_not_exists(") {
		if _, exists := t.items[key]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	t.items[key] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (d *DB) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.GetCalls++
	if d.FailWith != nil {
		return nil, d.FailWith
	}
	t, err := d.table(params.TableName)
	if err != nil {
		return nil, err
	}
	item, ok := t.items[t.keyOf(params.Key)]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (d *DB) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.UpdateCalls++
	if d.FailWith != nil {
		return nil, d.FailWith
	}
	t, err := d.table(params.TableName)
	if err != nil {
		return nil, err
	}
	key := t.keyOf(params.Key)
	item, exists := t.items[key]
	if !exists {
		// UpdateItem creates the item when absent, like the real store
		item = map[string]types.AttributeValue{}
		for k, v := range params.Key {
			item[k] = v
		}
	}
	if err := applyUpdateExpression(item, params.UpdateExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	t.items[key] = item
	return &dyn.UpdateItemOutput{Attributes: item}, nil
}

func (d *DB) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.QueryCalls++
	if d.FailWith != nil {
		return nil, d.FailWith
	}
	t, err := d.table(params.TableName)
	if err != nil {
		return nil, err
	}
	// supports the single form "pk = :val"
	cond := strings.TrimSpace(*params.KeyConditionExpression)
	parts := strings.SplitN(cond, "=", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("dynamock: unsupported key condition %q", cond)
	}
	attr := strings.TrimSpace(parts[0])
	want, ok := params.ExpressionAttributeValues[strings.TrimSpace(parts[1])].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("dynamock: key condition value must be a string")
	}
	out := &dyn.QueryOutput{}
	for _, item := range t.items {
		if s, ok := item[attr].(*types.AttributeValueMemberS); ok && s.Value == want.Value {
			out.Items = append(out.Items, item)
		}
	}
	return out, nil
}

func (d *DB) BatchGetItem(ctx context.Context, params *dyn.BatchGetItemInput, optFns ...func(*dyn.Options)) (*dyn.BatchGetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.BatchGetCalls++
	if d.FailWith != nil {
		return nil, d.FailWith
	}
	out := &dyn.BatchGetItemOutput{Responses: map[string][]map[string]types.AttributeValue{}}
	for name, req := range params.RequestItems {
		t, ok := d.tables[name]
		if !ok {
			return nil, fmt.Errorf("dynamock: unknown table %q", name)
		}
		for _, key := range req.Keys {
			if item, ok := t.items[t.keyOf(key)]; ok {
				out.Responses[name] = append(out.Responses[name], item)
			}
		}
	}
	return out, nil
}

func (d *DB) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.TransactCalls++
	if d.FailWith != nil {
		return nil, d.FailWith
	}
	// first pass: evaluate conditions; any failure cancels the whole batch
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	cancelled := false
	for i, it := range params.TransactItems {
		code := "None"
		if p := it.Put; p != nil {
			t, err := d.table(p.TableName)
			if err != nil {
				return nil, err
			}
			if p.ConditionExpression != nil && strings.HasPrefix(*p.ConditionExpression, "attribute_not_exists(") {
				if _, exists := t.items[t.keyOf(p.Item)]; exists {
					code = "ConditionalCheckFailed"
					cancelled = true
				}
			}
		}
		c := code
		reasons[i] = types.CancellationReason{Code: &c}
	}
	if cancelled {
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}
	// second pass: apply
	for _, it := range params.TransactItems {
		if p := it.Put; p != nil {
			t, _ := d.table(p.TableName)
			t.items[t.keyOf(p.Item)] = p.Item
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

// applyUpdateExpression supports the SET/ADD shapes the stores use:
// plain assignment, if_not_exists assignment, and numeric ADD.
func applyUpdateExpression(item map[string]types.AttributeValue, expr *string, names map[string]string, values map[string]types.AttributeValue) error {
	if expr == nil {
		return errors.New("dynamock: nil update expression")
	}
	setPart, addPart := splitSetAdd(*expr)

	for _, assign := range splitTopLevel(setPart) {
		parts := strings.SplitN(assign, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("dynamock: bad assignment %q", assign)
		}
		attr := resolveName(strings.TrimSpace(parts[0]), names)
		rhs := strings.TrimSpace(parts[1])
		if strings.HasPrefix(rhs, "if_not_exists(") {
			if _, exists := item[attr]; exists {
				continue
			}
			ref := rhs[strings.LastIndex(rhs, ":"):strings.LastIndex(rhs, ")")]
			item[attr] = values[strings.TrimSpace(ref)]
		} else {
			item[attr] = values[rhs]
		}
	}

	for _, add := range splitTopLevel(addPart) {
		fields := strings.Fields(add)
		if len(fields) != 2 {
			return fmt.Errorf("dynamock: bad add clause %q", add)
		}
		attr := resolveName(fields[0], names)
		delta, err := numValue(values[fields[1]])
		if err != nil {
			return err
		}
		current := 0
		if existing, ok := item[attr]; ok {
			if current, err = numValue(existing); err != nil {
				return err
			}
		}
		item[attr] = &types.AttributeValueMemberN{Value: strconv.Itoa(current + delta)}
	}
	return nil
}

func splitSetAdd(expr string) (setPart, addPart string) {
	expr = strings.TrimSpace(expr)
	if idx := strings.Index(expr, " ADD "); idx >= 0 {
		addPart = strings.TrimSpace(expr[idx+5:])
		expr = expr[:idx]
	}
	setPart = strings.TrimSpace(strings.TrimPrefix(expr, "SET "))
	return setPart, addPart
}

// splitTopLevel splits on commas outside parentheses.
func splitTopLevel(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

func resolveName(attr string, names map[string]string) string {
	if strings.HasPrefix(attr, "#") {
		if real, ok := names[attr]; ok {
			return real
		}
	}
	return attr
}

func numValue(av types.AttributeValue) (int, error) {
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.New("dynamock: expected numeric attribute")
	}
	return strconv.Atoi(n.Value)
}
