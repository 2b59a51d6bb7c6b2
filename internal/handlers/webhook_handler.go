package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	stripe "github.com/stripe/stripe-go/v82"

	"github.com/marketgrid/checkout-orderflow/internal/aws"
	"github.com/marketgrid/checkout-orderflow/internal/checkout"
	"github.com/marketgrid/checkout-orderflow/internal/orders"
	"github.com/marketgrid/checkout-orderflow/internal/products"
	"github.com/marketgrid/checkout-orderflow/internal/receipts"
	"github.com/marketgrid/checkout-orderflow/internal/stripewebhook"
	"github.com/marketgrid/checkout-orderflow/internal/validation"
)

// metricsNamespace groups this service's CloudWatch metrics.
const metricsNamespace = "Marketplace/CheckoutWebhook"

// HandlerConfig groups dependencies for the webhook handler.
type HandlerConfig struct {
	DynamoDBClient   aws.DynamoDBAPI
	SQSClient        aws.SQSAPI
	CloudWatchClient aws.CloudWatchAPI

	// WebhookSecrets is the ordered, non-empty signing secret list. More than
	// one entry means a rotation is in flight.
	WebhookSecrets []string

	OrdersTable     string
	OrderItemsTable string
	ProductsTable   string
	ReceiptsTable   string // optional; empty disables the receipt ledger
	ReceiptTTL      time.Duration

	ConversationsQueueURL string // optional; empty disables side-effect dispatch

	UnknownSellerPolicy checkout.UnknownSellerPolicy
}

// RegisterWebhookRoutes wires the payment-provider webhook endpoint.
func RegisterWebhookRoutes(r *gin.Engine, cfg HandlerConfig) error {
	verifier, err := stripewebhook.NewVerifier(cfg.WebhookSecrets)
	if err != nil {
		return err
	}

	v := validation.New()
	ordersStore := orders.NewStore(cfg.DynamoDBClient, cfg.OrdersTable, cfg.OrderItemsTable)
	productsStore := products.NewStore(cfg.DynamoDBClient, cfg.ProductsTable)
	reconciler := checkout.NewReconciler(ordersStore, productsStore, cfg.UnknownSellerPolicy)

	var dispatcher checkout.Dispatcher
	if cfg.SQSClient != nil && cfg.ConversationsQueueURL != "" {
		dispatcher = &checkout.QueueDispatcher{
			Publisher: aws.NewPublisher(cfg.SQSClient, cfg.ConversationsQueueURL),
		}
	}
	materializer := checkout.NewMaterializer(ordersStore, reconciler, dispatcher, v)

	var receiptStore *receipts.Store
	if cfg.ReceiptsTable != "" {
		receiptStore = receipts.NewStore(cfg.DynamoDBClient, cfg.ReceiptsTable, cfg.ReceiptTTL)
	}

	metrics := aws.NewMetrics(cfg.CloudWatchClient, metricsNamespace)

	r.POST("/webhooks/stripe", func(c *gin.Context) {
		ctx := c.Request.Context()

		// the raw body must reach the verifier byte for byte
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_body"})
			return
		}

		// Verification gates everything: an unauthenticated payload never
		// reaches the store.
		event, err := verifier.Verify(body, c.GetHeader("stripe-signature"))
		if err != nil {
			metrics.Count(ctx, "SignatureRejected", 1, nil)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature"})
			return
		}
		metrics.Count(ctx, "WebhookReceived", 1, map[string]string{"EventType": string(event.Type)})

		// Route by type. Valid-but-unhandled events are acknowledged as
		// successes; a non-2xx here would make the provider retry them forever.
		if event.Type != "checkout.session.completed" {
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}

		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			log.Printf("[webhook] event=%s has undecodable session object: %v", event.ID, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
			return
		}
		if session.Mode != "payment" || session.PaymentStatus != "paid" {
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}

		// Receipt ledger is audit-only and best-effort: it never gates
		// processing and its failures never fail a delivery.
		if receiptStore != nil {
			if deliveries, rerr := receiptStore.Record(ctx, event.ID, string(event.Type)); rerr != nil {
				log.Printf("[webhook] receipt record failed for event=%s: %v", event.ID, rerr)
			} else if deliveries > 1 {
				metrics.Count(ctx, "DuplicateDeliveries", 1, nil)
			}
		}

		result, err := materializer.Materialize(ctx, &session)
		if err != nil {
			if receiptStore != nil {
				if rerr := receiptStore.MarkFailed(ctx, event.ID, err.Error()); rerr != nil {
					log.Printf("[webhook] receipt mark-failed failed for event=%s: %v", event.ID, rerr)
				}
			}
			if checkout.IsClientFault(err) {
				// upstream contract break; log for investigation, do not retry
				log.Printf("[webhook] rejected event=%s session=%s: %v", event.ID, session.ID, err)
				metrics.Count(ctx, "InvalidManifests", 1, nil)
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_manifest"})
				return
			}
			class := "Fatal"
			if checkout.IsTransient(err) {
				class = "Transient"
				log.Printf("[webhook] transient failure event=%s session=%s: %v", event.ID, session.ID, err)
			} else {
				log.Printf("[webhook] FATAL materialization failure event=%s session=%s intent=%v: %v",
					event.ID, session.ID, session.PaymentIntent, err)
			}
			metrics.Count(ctx, "MaterializationErrors", 1, map[string]string{"Class": class})
			// 5xx either way: the provider's redelivery is the retry loop
			c.JSON(http.StatusInternalServerError, gin.H{"error": "materialization_failed"})
			return
		}

		if receiptStore != nil {
			if rerr := receiptStore.MarkProcessed(ctx, event.ID, result.OrderID); rerr != nil {
				log.Printf("[webhook] receipt mark-processed failed for event=%s: %v", event.ID, rerr)
			}
		}
		if result.Created {
			metrics.Count(ctx, "OrdersMaterialized", 1, nil)
		}
		if result.ItemsInserted > 0 {
			metrics.Count(ctx, "OrderItemsInserted", float64(result.ItemsInserted), nil)
		}
		if result.Unresolved > 0 {
			metrics.Count(ctx, "UnresolvedSellerLines", float64(result.Unresolved), nil)
		}

		// Idempotent success: a repeat delivery answers exactly like the first.
		c.JSON(http.StatusOK, gin.H{"received": true, "order_id": result.OrderID})
	})

	return nil
}
