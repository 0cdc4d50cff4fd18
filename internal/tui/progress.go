// Package tui 在终端中渲染上传状态：进度条、在线状态、离线队列和最终结果。
package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kazakh-hub/internal/upload"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// StateSource 是可订阅的上传状态，upload.Facade 满足该接口。
type StateSource interface {
	State() upload.State
	OnChange(fn func(upload.State)) func()
}

// Job 是在界面后台执行的上传动作。
type Job func(ctx context.Context) (*upload.Outcome, error)

type stateMsg upload.State

type doneMsg struct {
	outcome *upload.Outcome
	err     error
}

// Model 是上传进度界面的 bubbletea 模型。
type Model struct {
	title   string
	state   upload.State
	bar     progress.Model
	spin    spinner.Model
	cancel  context.CancelFunc
	width   int
	done    bool
	outcome *upload.Outcome
	err     error
}

// New 创建一个新的界面模型。cancel 在用户按下 q / ctrl+c 时调用。
func New(title string, initial upload.State, cancel context.CancelFunc) Model {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 40
	return Model{
		title:  title,
		state:  initial,
		bar:    bar,
		spin:   spinner.New(spinner.WithSpinner(spinner.Dot)),
		cancel: cancel,
	}
}

func (m Model) Init() tea.Cmd {
	return m.spin.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.done {
				return m, tea.Quit
			}
			// 取消只在退避等待处生效，等待后台任务返回结果后退出
			if m.cancel != nil {
				m.cancel()
			}
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(10, min(60, msg.Width-20))
		return m, nil
	case stateMsg:
		m.state = upload.State(msg)
		return m, nil
	case doneMsg:
		m.done = true
		m.outcome = msg.outcome
		m.err = msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")

	if m.state.Online {
		b.WriteString(okStyle.Render("● online"))
	} else {
		b.WriteString(warnStyle.Render("● offline"))
	}
	b.WriteString(mutedStyle.Render(fmt.Sprintf("   pending jobs: %d", m.state.PendingCount)))
	b.WriteString("\n\n")

	if p := m.state.Progress; p != nil && p.Total > 0 {
		b.WriteString(m.bar.ViewAs(float64(p.Current) / float64(p.Total)))
		b.WriteString(fmt.Sprintf("  %d/%d", p.Current, p.Total))
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render(fmt.Sprintf("elapsed %s · remaining ~%s",
			p.Elapsed.Truncate(time.Second), p.Remaining.Truncate(time.Second))))
		b.WriteString("\n")
	} else if m.state.Uploading {
		b.WriteString(m.spin.View() + " preparing files...\n")
	}

	if m.state.Error != "" && !m.done {
		b.WriteString(errorStyle.Render("error: " + m.state.Error))
		b.WriteString("\n")
	}

	if m.done {
		b.WriteString("\n")
		b.WriteString(Summary(m.outcome, m.err))
		b.WriteString("\n")
	} else {
		b.WriteString("\n" + mutedStyle.Render("q to cancel"))
	}
	return panelStyle.Render(b.String())
}

// Outcome 返回后台任务的结果，界面结束后调用。
func (m Model) Outcome() (*upload.Outcome, error) {
	return m.outcome, m.err
}

// Summary 把上传结果格式化为一行带样式的文本，非交互模式下也使用它。
func Summary(out *upload.Outcome, err error) string {
	if err != nil {
		return errorStyle.Render("upload failed: " + err.Error())
	}
	if out == nil {
		return mutedStyle.Render("nothing to do")
	}
	switch out.Status {
	case upload.OutcomeQueued:
		return warnStyle.Render(out.Message)
	case upload.OutcomePartial, upload.OutcomeCancelled:
		return warnStyle.Render(out.Message)
	}
	if out.Result != nil {
		return okStyle.Render(fmt.Sprintf("uploaded %d/%d files in %s (folder %s)",
			out.Result.Successful, out.Result.Total, out.Result.Duration.Truncate(time.Millisecond), out.Result.FolderID))
	}
	if out.Record != nil {
		return okStyle.Render(fmt.Sprintf("uploaded %s (record %s)", out.Record.Title, out.Record.ID))
	}
	return okStyle.Render("upload completed")
}

// Run 在终端界面中执行 job，直到 job 返回。
func Run(ctx context.Context, title string, src StateSource, job Job, opts ...tea.ProgramOption) (*upload.Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(New(title, src.State(), cancel), opts...)

	// OnChange 在 Facade 内部锁下回调，Send 不能阻塞它：只保留最新状态，由单独的 goroutine 转发
	var (
		mu     sync.Mutex
		latest upload.State
	)
	wake := make(chan struct{}, 1)
	unsubscribe := src.OnChange(func(s upload.State) {
		mu.Lock()
		latest = s
		mu.Unlock()
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-wake:
				mu.Lock()
				s := latest
				mu.Unlock()
				p.Send(stateMsg(s))
			}
		}
	}()

	go func() {
		out, err := job(ctx)
		p.Send(doneMsg{outcome: out, err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("terminal ui: %w", err)
	}
	return final.(Model).Outcome()
}
