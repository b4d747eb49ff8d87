package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/skyhub/skyhub-go/internal/cpuspec"
	"github.com/skyhub/skyhub-go/internal/datastore"
)

func (c *Controller) initSystemRoutes() {
	// Health stays unauthenticated so load balancers can probe it.
	c.Group.GET("/health", c.HealthCheck)
	c.Group.GET("/system/info", c.requireACL(datastore.ACLSystemAdmin, c.SystemInfo), c.AuthMiddleware)
}

// HealthCheck handles GET /api/v2/health. Liveness covers the database;
// vector search is reported but does not fail the probe.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	status := "healthy"
	code := http.StatusOK
	checks := map[string]string{}

	if err := c.DS.Ping(); err != nil {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
		checks["database"] = err.Error()
	} else {
		checks["database"] = "ok"
	}

	if c.Search != nil {
		if err := c.Search.Ping(ctx.Request().Context()); err != nil {
			checks["search"] = err.Error()
		} else {
			checks["search"] = "ok"
		}
	}

	return ctx.JSON(code, map[string]any{
		"status":     status,
		"version":    c.Settings.Version,
		"build_date": c.Settings.BuildDate,
		"uptime_s":   int64(time.Since(c.startTime).Seconds()),
		"checks":     checks,
	})
}

// SystemInfoResponse describes the host the node runs on.
type SystemInfoResponse struct {
	Hostname        string  `json:"hostname"`
	OS              string  `json:"os"`
	Platform        string  `json:"platform"`
	PlatformVersion string  `json:"platformVersion"`
	UptimeSeconds   uint64  `json:"uptimeSeconds"`
	CPUModel        string  `json:"cpuModel"`
	NumCPU          int     `json:"numCpu"`
	CPUPercent      float64 `json:"cpuPercent"`
	MemoryTotal     uint64  `json:"memoryTotal"`
	MemoryUsed      uint64  `json:"memoryUsed"`
	MemoryPercent   float64 `json:"memoryPercent"`
	DiskTotal       uint64  `json:"diskTotal"`
	DiskUsed        uint64  `json:"diskUsed"`
	DiskPercent     float64 `json:"diskPercent"`
	GoVersion       string  `json:"goVersion"`
	SSEClients      int     `json:"sseClients"`
}

// SystemInfo handles GET /api/v2/system/info. Admin only.
func (c *Controller) SystemInfo(ctx echo.Context) error {
	info := SystemInfoResponse{
		CPUModel:   cpuspec.GetCPUSpec().BrandName,
		NumCPU:     runtime.NumCPU(),
		GoVersion:  runtime.Version(),
		SSEClients: c.sse.ClientCount(),
	}

	if hostInfo, err := host.Info(); err == nil {
		info.Hostname = hostInfo.Hostname
		info.OS = hostInfo.OS
		info.Platform = hostInfo.Platform
		info.PlatformVersion = hostInfo.PlatformVersion
		info.UptimeSeconds = hostInfo.Uptime
	} else {
		c.apiLogger.Warn("failed to read host info", "error", err)
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		info.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryTotal = vm.Total
		info.MemoryUsed = vm.Used
		info.MemoryPercent = vm.UsedPercent
	}

	dataDir := "."
	if c.Settings.Archive.Enabled && c.Settings.Archive.Folder != "" {
		dataDir = c.Settings.Archive.Folder
	}
	if usage, err := disk.Usage(dataDir); err == nil {
		info.DiskTotal = usage.Total
		info.DiskUsed = usage.Used
		info.DiskPercent = usage.UsedPercent
	}

	return ctx.JSON(http.StatusOK, info)
}
