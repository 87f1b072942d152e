package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"bridgeroute/internal/config"
	"bridgeroute/internal/database"
	"bridgeroute/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "配置文件路径")
		up         = flag.Bool("up", false, "运行数据库迁移")
		down       = flag.Bool("down", false, "回滚数据库迁移")
		version    = flag.Bool("version", false, "显示当前迁移版本")
		force      = flag.Int("force", -1, "强制设置迁移版本（用于修复脏状态）")
		help       = flag.Bool("help", false, "显示帮助信息")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("加载配置文件失败: %v", err)
	}
	appLog := logger.Init(cfg.Logging)

	// 连接数据库
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.Timeout)
	db, err := database.Open(ctx, cfg.Database, appLog)
	cancel()
	if err != nil {
		log.Fatalf("连接数据库失败: %v", err)
	}

	// 创建迁移器，关闭迁移器时会一并关闭数据库
	migrator, err := database.NewMigrator(db, appLog)
	if err != nil {
		db.Close()
		log.Fatalf("创建迁移器失败: %v", err)
	}
	defer migrator.Close()

	// 执行操作
	switch {
	case *down:
		run("回滚数据库迁移", migrator.Down)
	case *version:
		showVersion(migrator)
	case *force >= 0:
		run(fmt.Sprintf("强制设置迁移版本为 %d", *force), func() error { return migrator.Force(*force) })
	case *up:
		run("运行数据库迁移", migrator.Up)
	default:
		// 默认运行迁移
		run("运行数据库迁移", migrator.Up)
	}
}

func showHelp() {
	fmt.Println("bridgeroute 数据库迁移工具")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  migrate [选项]")
	fmt.Println()
	fmt.Println("选项:")
	fmt.Println("  -config string")
	fmt.Println("        配置文件路径 (默认: configs/config.yaml)")
	fmt.Println("  -up")
	fmt.Println("        运行数据库迁移")
	fmt.Println("  -down")
	fmt.Println("        回滚数据库迁移")
	fmt.Println("  -version")
	fmt.Println("        显示当前迁移版本")
	fmt.Println("  -force int")
	fmt.Println("        强制设置迁移版本（用于修复脏状态）")
	fmt.Println("  -help")
	fmt.Println("        显示帮助信息")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  migrate -up")
	fmt.Println("  migrate -version")
	fmt.Println("  migrate -force 1    # 修复脏状态，强制设置为版本1")
	fmt.Println("  migrate -config configs/production.yaml -up")
}

// run 执行一个迁移操作，失败时退出
func run(action string, fn func() error) {
	log.Printf("开始%s...", action)
	if err := fn(); err != nil {
		log.Fatalf("%s失败: %v", action, err)
	}
	log.Printf("%s完成", action)
}

func showVersion(migrator *database.Migrator) {
	version, err := migrator.Version()
	if err != nil {
		log.Fatalf("获取迁移版本失败: %v", err)
	}

	fmt.Printf("当前迁移版本: %d\n", version)
}
