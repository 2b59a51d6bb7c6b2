package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/marketgrid/checkout-orderflow/internal/aws"
	"github.com/marketgrid/checkout-orderflow/internal/checkout"
	"github.com/marketgrid/checkout-orderflow/internal/handlers"
)

func setupRouter(cfg handlers.HandlerConfig) (*gin.Engine, error) {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if err := handlers.RegisterWebhookRoutes(r, cfg); err != nil {
		return nil, err
	}
	return r, nil
}

func configFromEnv(clients *aws.AWSClients) (handlers.HandlerConfig, error) {
	policy, err := checkout.ParseUnknownSellerPolicy(os.Getenv("UNKNOWN_SELLER_POLICY"))
	if err != nil {
		return handlers.HandlerConfig{}, err
	}

	receiptTTL := 48 * time.Hour
	if raw := os.Getenv("RECEIPT_TTL_HOURS"); raw != "" {
		if hours, err := strconv.Atoi(raw); err == nil && hours > 0 {
			receiptTTL = time.Duration(hours) * time.Hour
		}
	}

	var secrets []string
	for _, s := range strings.Split(os.Getenv("STRIPE_WEBHOOK_SECRETS"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			secrets = append(secrets, s)
		}
	}

	return handlers.HandlerConfig{
		DynamoDBClient:        clients.DynamoDB,
		SQSClient:             clients.SQS,
		CloudWatchClient:      clients.CloudWatch,
		WebhookSecrets:        secrets,
		OrdersTable:           os.Getenv("ORDERS_TABLE"),
		OrderItemsTable:       os.Getenv("ORDER_ITEMS_TABLE"),
		ProductsTable:         os.Getenv("PRODUCTS_TABLE"),
		ReceiptsTable:         os.Getenv("WEBHOOK_RECEIPTS_TABLE"),
		ReceiptTTL:            receiptTTL,
		ConversationsQueueURL: os.Getenv("CONVERSATIONS_QUEUE_URL"),
		UnknownSellerPolicy:   policy,
	}, nil
}

func main() {
	clients, err := aws.NewAWSClients(context.Background())

	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	cfg, err := configFromEnv(clients)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	r, err := setupRouter(cfg)
	if err != nil {
		log.Fatalf("failed to set up router: %v", err)
	}

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if os.Getenv("RUN_LOCAL") == "true" {
		addr := ":8080"
		log.Printf("running local server on %s", addr)
		if err := r.Run(addr); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		// the adapter handles proxying; use adapter.ProxyWithContext for proper context propagation
		return adapter.ProxyWithContext(ctx, req)
	})
}
