// Package main 是 uploader 命令行客户端：上传文件或文件夹，离线时写入本地队列，恢复连接后重放。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"kazakh-hub/internal/client"
	"kazakh-hub/internal/config"
	"kazakh-hub/internal/model"
	"kazakh-hub/internal/queue"
	"kazakh-hub/internal/realtime"
	"kazakh-hub/internal/tui"
	"kazakh-hub/internal/upload"
	"kazakh-hub/pkg/events"
	"kazakh-hub/pkg/log"
)

const usage = `Usage: uploader [flags] <command> [args]

Commands:
  folder <dir>   upload a directory as one folder record with member files
  file <path>    upload a single file
  drain          replay queued uploads now
  pending        print the number of queued uploads
  watch          stay running and replay the queue whenever the server comes back

Flags:
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, tui.Summary(nil, err))
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("uploader", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	configPath := fs.StringP("config", "c", "", "配置文件路径 (yaml)")
	fs.String("server", "", "记录服务地址")
	fs.String("token", "", "访问 token")
	fs.String("author", "", "作者")
	fs.String("queue", "", "离线队列数据库路径")
	fs.Int("batch-size", 0, "每批并发上传的文件数")
	title := fs.StringP("title", "t", "", "记录标题，默认为文件夹或文件名")
	description := fs.StringP("description", "d", "", "描述（文件夹上传必填）")
	language := fs.StringP("language", "l", "", "语言（文件夹上传必填）")
	tags := fs.StringSlice("tags", nil, "标签，逗号分隔")
	useTUI := fs.Bool("tui", false, "使用终端界面显示进度")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	v := viper.New()
	for key, name := range map[string]string{
		"uploader.server_url": "server",
		"uploader.token":      "token",
		"uploader.author":     "author",
		"uploader.queue_path": "queue",
		"uploader.batch_size": "batch-size",
	} {
		if fs.Changed(name) {
			_ = v.BindPFlag(key, fs.Lookup(name))
		}
	}
	cfg, err := config.Load(v, *configPath)
	if err != nil {
		return err
	}
	ucfg := cfg.Uploader

	// 终端界面占用 stdout，日志只写文件
	if err := os.MkdirAll(filepath.Dir(ucfg.LogFile), 0o755); err == nil {
		if err := log.InitFile(cfg.Log.Level, ucfg.LogFile); err != nil {
			fmt.Fprintf(os.Stderr, "日志初始化失败: %v\n", err)
		}
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := queue.NewStore(ucfg.QueuePath)
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer store.Close()

	facade, monitor, notifier, err := build(ucfg, store)
	if err != nil {
		return err
	}
	defer notifier.Close()
	monitor.Probe(ctx)

	meta := model.Metadata{Title: *title, Description: *description, Language: *language, Tags: *tags}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	var job tui.Job
	switch cmd {
	case "folder":
		if len(rest) != 1 {
			return errors.New("folder requires exactly one directory")
		}
		sources, err := upload.WalkDir(rest[0])
		if err != nil {
			return err
		}
		job = func(ctx context.Context) (*upload.Outcome, error) {
			return facade.UploadFolder(ctx, sources, meta)
		}
	case "file":
		if len(rest) != 1 {
			return errors.New("file requires exactly one path")
		}
		src, err := upload.SingleFile(rest[0])
		if err != nil {
			return err
		}
		job = func(ctx context.Context) (*upload.Outcome, error) {
			return facade.UploadFile(ctx, src, meta)
		}
	case "drain":
		if !monitor.Online() {
			return upload.ErrNetwork
		}
		report, err := facade.Drain(ctx)
		fmt.Printf("replayed %d, succeeded %d, retained %d, dropped %d\n",
			report.Replayed, report.Succeeded, report.Retained, report.Dropped)
		return err
	case "pending":
		n, err := store.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	case "watch":
		go monitor.Run(ctx)
		log.Infof("[Uploader] 开始监听连接状态: %s", ucfg.ServerURL)
		if err := facade.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}

	var out *upload.Outcome
	if *useTUI {
		out, err = tui.Run(ctx, fmt.Sprintf("%s %s", cmd, rest[0]), facade, job, tea.WithContext(ctx))
	} else {
		out, err = job(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Println(tui.Summary(out, nil))
	for _, fe := range out.ProcessingErrors {
		fmt.Printf("  skipped %s: %v\n", fe.Path, fe.Err)
	}
	if out.Result != nil {
		for _, ff := range out.Result.Failed {
			fmt.Printf("  failed %s after %d retries: %v\n", ff.Path, ff.Retries, ff.Err)
		}
	}
	return nil
}

// build 装配 Facade 及其依赖：HTTP 记录客户端、连接监测、刷新通知和离线队列。
func build(ucfg config.UploaderConfig, store *queue.Store) (*upload.Facade, *upload.Monitor, *realtime.Notifier, error) {
	records := client.NewRecordClient(ucfg.ServerURL, ucfg.Token, ucfg.RequestTimeout)
	monitor := upload.NewMonitor(ucfg.ServerURL+"/healthz", ucfg.PollInterval, ucfg.RequestTimeout)

	endpoint, err := realtime.RefreshURL(ucfg.ServerURL, ucfg.Token)
	if err != nil {
		return nil, nil, nil, err
	}
	notifier := realtime.NewNotifier(endpoint, func(evt events.RefreshEvent) {
		log.Infof("[Uploader] 收到刷新广播: folder=%s record=%s author=%s", evt.FolderID, evt.RecordID, evt.Author)
	})

	facade := upload.NewFacade(
		model.Session{Author: ucfg.Author, Token: ucfg.Token},
		records,
		store,
		upload.WithConnectivity(monitor),
		upload.WithRefreshNotifier(notifier),
		upload.WithOrchestratorOptions(
			upload.WithBatchSize(ucfg.BatchSize),
			upload.WithMaxRetries(ucfg.MaxRetries),
			upload.WithBaseDelay(ucfg.BaseDelay),
		),
	)
	return facade, monitor, notifier, nil
}
