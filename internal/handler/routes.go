package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires the operational API. Authentication and the full
// administrator CRUD surface live outside this service.
func RegisterRoutes(e *echo.Echo, claims *ClaimHandler, buckets *BucketHandler, deliveries *DeliveryHandler) {
	api := e.Group("/api")

	api.POST("/claims", claims.Ingest)

	api.GET("/buckets", buckets.List)
	api.GET("/buckets/:id", buckets.Get)
	api.POST("/buckets/:id/approve", buckets.Approve)
	api.POST("/buckets/:id/reject", buckets.Reject)
	api.POST("/buckets/:id/reset", buckets.Reset)
	api.POST("/buckets/bulk-approve", buckets.BulkApprove)
	api.POST("/buckets/:id/check", buckets.AssignCheck)
	api.POST("/buckets/:id/check/replace", buckets.ReplaceCheck)

	api.GET("/buckets/:id/files", deliveries.ListForBucket)
	api.POST("/files/:id/deliver", deliveries.Deliver)
	api.POST("/files/:id/mark-delivered", deliveries.MarkDelivered)
}
