// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires the generation service's HTTP endpoints.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moddersomni/modforge/services/generation/handlers"
)

// RegisterRoutes attaches all generation service endpoints to the router.
func RegisterRoutes(router *gin.Engine, deps *handlers.Deps) {
	router.GET("/healthz", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		generation := v1.Group("/generation")
		{
			generation.POST("/start", handlers.StartGeneration(deps))
			generation.GET("/:id/stream", handlers.StreamGeneration(deps))
			generation.GET("/:id/status", handlers.GenerationStatus(deps))
			generation.POST("/:id/resume", handlers.ResumeGeneration(deps))
		}

		v1.GET("/modlists/:id", handlers.GetModlist(deps))

		library := v1.Group("/library")
		{
			library.GET("/games", handlers.ListGames(deps))
			library.GET("/playstyles", handlers.ListPlaystyles(deps))
		}
	}
}
