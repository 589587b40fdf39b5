package httpapi

import (
	"consult-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the v1 API on r. authMW must put the caller identity in the
// request context.
func (h Handlers) Register(r gin.IRouter, authMW gin.HandlerFunc) {
	v1 := r.Group("/v1")
	v1.POST("/auth/login", h.Login)
	v1.POST("/auth/refresh", h.Refresh)

	api := v1.Group("")
	api.Use(authMW, rbac.RequireIdentity(), Actor())
	api.GET("/me", h.Me)

	anyone := rbac.RequireAnyRole(rbac.RoleSubscriber, rbac.RoleProvider, rbac.RoleCoordinator, rbac.RoleSystem)
	staff := rbac.RequireAnyRole(rbac.RoleProvider, rbac.RoleCoordinator, rbac.RoleSystem)
	coordinators := rbac.RequireAnyRole(rbac.RoleCoordinator, rbac.RoleSystem)

	callsGroup := api.Group("/calls")
	{
		callsGroup.POST("", rbac.RequireAnyRole(rbac.RoleSubscriber, rbac.RoleCoordinator), h.CreateCall)
		callsGroup.GET("/scheduled", coordinators, h.ScheduledCalls)
		callsGroup.GET("/overdue", coordinators, h.OverdueCalls)

		callsGroup.GET("/:id", anyone, h.GetCall)
		callsGroup.GET("/:id/history", anyone, h.CallHistory)
		callsGroup.GET("/:id/history/latest", anyone, h.LatestStatusChange)
		callsGroup.PATCH("/:id", rbac.RequireAnyRole(rbac.RoleSubscriber, rbac.RoleCoordinator), h.UpdateDetails)
		callsGroup.PUT("/:id/link", staff, h.UpdateCallLink)
		callsGroup.DELETE("/:id", coordinators, h.DeleteCall)

		callsGroup.POST("/:id/assign", coordinators, h.AssignProvider)
		callsGroup.POST("/:id/schedule", staff, h.Schedule)
		callsGroup.POST("/:id/reschedule", staff, h.Reschedule)
		callsGroup.POST("/:id/start", staff, h.StartCall)
		callsGroup.POST("/:id/end", staff, h.EndCall)
		callsGroup.POST("/:id/cancel", anyone, h.Cancel)
		callsGroup.POST("/:id/no-show", staff, h.MarkNoShow)
	}

	subscribers := api.Group("/subscribers/:id")
	subscribers.Use(rbac.RequireAnyRole(rbac.RoleSubscriber, rbac.RoleCoordinator))
	{
		subscribers.GET("/calls", h.SubscriberCalls)
		subscribers.GET("/minutes", h.SubscriberMinutes)
		subscribers.GET("/summary", h.SubscriberSummary)
	}

	providers := api.Group("/providers/:id")
	{
		providers.GET("/availability", anyone, h.ProviderAvailability)
		providers.GET("/calls", staff, h.ProviderCalls)
		providers.GET("/upcoming", staff, h.ProviderUpcoming)
		providers.GET("/load", staff, h.ProviderLoad)
	}

	// Only admin passes; admin bypasses every role list.
	admin := api.Group("/admin")
	admin.Use(rbac.RequireAnyRole())
	{
		admin.DELETE("/calls/:id/history", h.PurgeHistory)
	}
}
