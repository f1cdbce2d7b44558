package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/climate-assistant/backend/internal/app"
	"github.com/zhouzirui/climate-assistant/backend/internal/config"
	modelchat "github.com/zhouzirui/climate-assistant/backend/internal/model/chat"
	"github.com/zhouzirui/climate-assistant/backend/internal/model/experiment"
	"github.com/zhouzirui/climate-assistant/backend/internal/service/ai"
	"github.com/zhouzirui/climate-assistant/backend/internal/service/chat"
	"github.com/zhouzirui/climate-assistant/backend/internal/service/transcript"
)

var (
	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true).
			Underline(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Bold(true)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderLeft(true).
			PaddingLeft(1)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))
)

// questions 收集多个 -q 参数，按顺序作为同一会话的多轮提问
type questions []string

func (q *questions) String() string { return strings.Join(*q, " | ") }

func (q *questions) Set(v string) error {
	*q = append(*q, v)
	return nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	var asks questions
	conditionID := flag.String("condition", "", "实验条件 ID，留空则使用 -social/-source/-tone")
	social := flag.String("social", experiment.SocialCuesSentinel, "social cues 取值")
	source := flag.String("source", experiment.SourceSentinel, "source 取值")
	tone := flag.String("tone", experiment.ToneSentinel, "tone 取值")
	name := flag.String("name", "Tester", "参与者显示名称")
	userID := flag.String("user", "10000", "参与者 ID，非法 ID 只会得到拒答文本")
	showPrompt := flag.Bool("show-prompt", false, "打印系统提示词")
	timeout := flag.Duration("timeout", 2*time.Minute, "整个测试的超时时间")
	flag.Var(&asks, "q", "提问内容，可重复指定以测试多轮对话")

	flag.Parse()

	if len(asks) == 0 {
		flag.Usage()
		log.Fatal("请至少通过 -q 提供一个问题")
	}

	if !cfg.AI.Enabled() {
		log.Fatalf("%s 模型凭证未配置，无法测试问答", cfg.AI.Provider)
	}

	logger, err := app.NewLogger(config.LogConfig{Level: "warn", Format: "console"}, os.Stderr)
	if err != nil {
		log.Fatalf("日志初始化失败: %v", err)
	}

	conditions, err := app.LoadConditions(cfg.Study)
	if err != nil {
		log.Fatalf("实验条件加载失败: %v", err)
	}
	expCfg, err := experiment.Resolve(conditions, *conditionID, experiment.Config{
		SocialCues: *social,
		Source:     *source,
		Tone:       *tone,
	})
	if err != nil {
		log.Fatalf("实验条件无效: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	factory, err := app.NewSessionFactory(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("问答管线初始化失败: %v", err)
	}

	svc := chat.NewService(chat.Options{Factory: factory, Logger: logger})

	fmt.Println(sectionStyle.Render(fmt.Sprintf("Condition %s (%s)", expCfg.Code(), expCfg)))
	if *showPrompt {
		fmt.Println(promptStyle.Render(strings.TrimRight(ai.BuildPrompt(expCfg, *name), "\n")))
	}
	fmt.Println()

	var history []modelchat.Message
	for _, q := range asks {
		started := time.Now()
		result, err := svc.Turn(ctx, chat.TurnRequest{
			ClientID:    "asktester",
			Config:      expCfg,
			DisplayName: *name,
			UserID:      *userID,
			Message:     q,
		})
		if err != nil {
			log.Fatalf("问答失败: %v", err)
		}
		history = result.History

		fmt.Println(userStyle.Render("User: ") + q)
		fmt.Println(assistantStyle.Render("Assistant: ") + result.Answer.Content)
		fmt.Printf("(%s)\n\n", time.Since(started).Round(time.Millisecond))
	}

	fmt.Println(footerStyle.Render(fmt.Sprintf("%d messages, export code %s", len(history), transcript.ExportCode(expCfg, *userID))))
}
