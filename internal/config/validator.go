package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator 配置验证器
type Validator struct {
	config *Config
}

// NewValidator 创建配置验证器
func NewValidator(config *Config) *Validator {
	return &Validator{
		config: config,
	}
}

// Validate 验证配置，收集所有错误后一次返回
func (v *Validator) Validate() error {
	var errors []string

	checks := []struct {
		section string
		check   func() []string
	}{
		{"应用配置错误", v.validateApp},
		{"数据库配置错误", v.validateDatabase},
		{"Redis配置错误", v.validateRedis},
		{"数据源配置错误", v.validateSources},
		{"汇率配置错误", v.validateFX},
		{"场所配置错误", v.validateVenues},
		{"路由配置错误", v.validateRouting},
		{"定时任务配置错误", v.validateSchedules},
	}

	for _, c := range checks {
		for _, problem := range c.check() {
			errors = append(errors, fmt.Sprintf("%s: %s", c.section, problem))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("配置验证失败:\n%s", strings.Join(errors, "\n"))
	}
	return nil
}

// validateApp 验证应用配置
func (v *Validator) validateApp() []string {
	var problems []string
	validEnvironments := map[string]bool{"development": true, "test": true, "staging": true, "production": true}
	if !validEnvironments[v.config.App.Env] {
		problems = append(problems, fmt.Sprintf("无效的环境: %s", v.config.App.Env))
	}
	return problems
}

// validateDatabase 验证数据库配置
func (v *Validator) validateDatabase() []string {
	db := v.config.Database
	var problems []string

	switch db.Driver {
	case "sqlite":
		if db.Path == "" {
			problems = append(problems, "sqlite 路径不能为空")
		}
	case "postgres":
		if db.Host == "" {
			problems = append(problems, "数据库主机不能为空")
		}
		if db.Port <= 0 || db.Port > 65535 {
			problems = append(problems, fmt.Sprintf("无效的数据库端口: %d", db.Port))
		}
		if db.DBName == "" {
			problems = append(problems, "数据库名称不能为空")
		}
	default:
		problems = append(problems, fmt.Sprintf("不支持的数据库驱动: %s", db.Driver))
	}

	if db.MaxIdle > db.MaxOpen {
		problems = append(problems, "最大空闲连接数不能大于最大连接数")
	}
	return problems
}

// validateRedis 验证Redis配置
func (v *Validator) validateRedis() []string {
	if v.config.Redis.Enabled && v.config.Redis.Addr == "" {
		return []string{"启用Redis时地址不能为空"}
	}
	return nil
}

// sourceKinds 每种事实允许的数据源类型
var sourceKinds = map[string]map[string]bool{
	"price":     {"banexg": true, "redis": true, "websocket": true},
	"fx":        {"yahoo": true},
	"orderbook": {"redis": true},
}

// validateSources 验证数据源配置
func (v *Validator) validateSources() []string {
	var problems []string
	known := map[string]bool{"banexg": true, "redis": true, "websocket": true, "yahoo": true}

	chains := []struct {
		kind  string
		chain []ProviderConfig
	}{
		{"price", v.config.Sources.Price},
		{"fx", v.config.Sources.FX},
		{"orderbook", v.config.Sources.Orderbook},
	}
	for _, c := range chains {
		kind := c.kind
		for _, p := range c.chain {
			if !known[p.Type] {
				problems = append(problems, fmt.Sprintf("%s 数据源 %s 类型未知: %s", kind, p.Name, p.Type))
			} else if !sourceKinds[kind][p.Type] {
				problems = append(problems, fmt.Sprintf("%s 数据源 %s 不支持类型 %s", kind, p.Name, p.Type))
			}
			if p.Timeout <= 0 {
				problems = append(problems, fmt.Sprintf("%s 数据源 %s 超时必须大于0", kind, p.Name))
			}
			if p.RPS <= 0 {
				problems = append(problems, fmt.Sprintf("%s 数据源 %s 速率必须大于0", kind, p.Name))
			}
			if (p.Type == "yahoo" || p.Type == "websocket") && p.URL == "" {
				problems = append(problems, fmt.Sprintf("%s 数据源 %s 需要配置 url", kind, p.Name))
			}
			if p.Type == "websocket" && p.Venue == "" {
				problems = append(problems, fmt.Sprintf("%s 数据源 %s 需要指定场所", kind, p.Name))
			}
			if p.Type == "redis" && !v.config.Redis.Enabled {
				problems = append(problems, fmt.Sprintf("%s 数据源 %s 依赖Redis，但Redis未启用", kind, p.Name))
			}
		}
	}
	return problems
}

// validateFX 验证汇率边界和兜底表
func (v *Validator) validateFX() []string {
	var problems []string
	for pair, b := range v.config.FX.Bounds {
		if !strings.Contains(pair, "/") {
			problems = append(problems, fmt.Sprintf("汇率对格式错误: %s", pair))
		}
		if b.Min <= 0 || b.Max <= b.Min {
			problems = append(problems, fmt.Sprintf("汇率对 %s 边界无效: [%g, %g]", pair, b.Min, b.Max))
		}
	}
	for pair, fb := range v.config.FX.Fallback {
		if fb.Rate <= 0 {
			problems = append(problems, fmt.Sprintf("汇率对 %s 兜底值必须大于0", pair))
		}
		if fb.Reason == "" {
			problems = append(problems, fmt.Sprintf("汇率对 %s 兜底值缺少原因说明", pair))
		}
		if b, ok := v.config.FX.Bounds[pair]; ok && (fb.Rate < b.Min || fb.Rate > b.Max) {
			problems = append(problems, fmt.Sprintf("汇率对 %s 兜底值超出边界", pair))
		}
	}
	return problems
}

// validateVenues 验证场所目录
func (v *Validator) validateVenues() []string {
	var problems []string
	seen := make(map[string]bool)
	for _, venue := range v.config.Venues {
		if venue.ID == "" {
			problems = append(problems, "场所ID不能为空")
			continue
		}
		if seen[venue.ID] {
			problems = append(problems, fmt.Sprintf("场所ID重复: %s", venue.ID))
		}
		seen[venue.ID] = true
		if len(venue.Currencies) == 0 {
			problems = append(problems, fmt.Sprintf("场所 %s 未配置币种", venue.ID))
		}
		if venue.TradingFeePct < 0 || venue.TradingFeePct >= 100 {
			problems = append(problems, fmt.Sprintf("场所 %s 手续费无效: %g", venue.ID, venue.TradingFeePct))
		}
	}
	return problems
}

// validateRouting 验证路由配置
func (v *Validator) validateRouting() []string {
	r := v.config.Routing
	var problems []string
	if r.MaxAlternatives < 0 {
		problems = append(problems, "备选路线数量不能为负")
	}
	if r.MaxConcurrentFetches <= 0 {
		problems = append(problems, "最大并发请求数必须大于0")
	}
	if r.UnknownLiquidityPenaltyPct < 0 {
		problems = append(problems, "未知流动性惩罚不能为负")
	}
	if r.SpreadNotional < 0 {
		problems = append(problems, "价差参考金额不能为负")
	}
	return problems
}

// validateSchedules 验证定时任务表达式
func (v *Validator) validateSchedules() []string {
	var problems []string
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{
		"venue_health":     v.config.Schedules.VenueHealth,
		"snapshot_capture": v.config.Schedules.SnapshotCapture,
	} {
		if _, err := parser.Parse(spec); err != nil {
			problems = append(problems, fmt.Sprintf("%s 表达式无效: %v", name, err))
		}
	}
	if v.config.Schedules.SnapshotRetention < 0 {
		problems = append(problems, "快照保留时间不能为负")
	}
	return problems
}
