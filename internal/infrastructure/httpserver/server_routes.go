package httpserver

func (s *Server) setupRoutes() {
	s.echo.GET(healthPath, s.healthCheck)
	s.echo.GET(metricsPath, metricsHandler(s.registry))

	posts := s.echo.Group("/api/v1/posts")
	posts.GET("", s.listPosts)
	posts.GET("/:id", s.getPost)
	posts.GET("/:id/image", s.getPostImage)

	// mutations need a principal and count against its rate limit
	write := posts.Group("", s.middleware.JWT.RequireJWT(), s.middleware.RateLimit.Handler())
	write.POST("", s.createPost)
	write.PUT("/:id", s.updatePost)
	write.DELETE("/:id", s.deletePost)
	write.PUT("/:id/visibility", s.changeVisibility)
	write.POST("/:id/vote", s.vote)
	write.DELETE("/:id/vote", s.unvote)
}
