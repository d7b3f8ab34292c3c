package web

import (
	"github.com/gofiber/fiber/v2"
)

// SetupRoutes configures the application routes.
func SetupRoutes(app *fiber.App, handlers *Handlers) {
	api := app.Group("/api")

	// Run the acquisition + classification pipeline for a post URL
	api.Post("/analyze", handlers.Analyze)

	// Review surface over persisted results
	api.Get("/posts", handlers.RecentPosts)
	api.Get("/posts/:id/comments", handlers.PostComments)
	api.Get("/posts/:id/distribution", handlers.Distribution)

	// Visualization data
	api.Get("/posts/:id/pie", handlers.Pie)
	api.Get("/posts/:id/wordcloud", handlers.WordCloud)
}
