package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ashwinyue/next-crm/internal/client"
	"github.com/ashwinyue/next-crm/internal/conversation"
	"github.com/ashwinyue/next-crm/internal/service/event"
)

var (
	chatSession string
	chatTopic   string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive terminal chat against a next-crm server",
	Long: `Start an interactive chat session. Plain lines are sent as messages;
lines starting with / are commands (type /help). Ctrl-C stops the reply
being generated, a second Ctrl-C exits.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "", "session id to open")
	chatCmd.Flags().StringVar(&chatTopic, "topic", "", "topic id to open")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	c := client.New(client.Options{
		BaseURL:  cfg.Client.BaseURL,
		Email:    cfg.Client.Email,
		Password: cfg.Client.Password,
		Timeout:  cfg.Client.RequestTimeout(),
		Logger:   log.With("component", "client"),
	})
	o := conversation.New(conversation.Options{
		Messages: c,
		Sessions: c,
		Identity: c,
		Logger:   log.With("component", "conversation"),
		AgentID:  cfg.Client.DefaultAgent,
	})
	defer o.Close()

	r := newREPL(o, cmd.InOrStdin(), cmd.OutOrStdout())
	unsubscribe, err := o.Subscribe(r)
	if err != nil {
		return err
	}
	defer unsubscribe()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT)
	defer signal.Stop(sig)
	go func() {
		for range sig {
			if !r.interrupt() {
				cancel()
				return
			}
		}
	}()

	params := url.Values{}
	params.Set(conversation.ParamSession, chatSession)
	params.Set(conversation.ParamTopic, chatTopic)
	if err := o.Bootstrap(ctx, params); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	return r.run(ctx)
}

// repl 终端交互循环，同时作为事件订阅者输出流式内容
type repl struct {
	o   *conversation.Orchestrator
	in  io.Reader
	out io.Writer

	mu      sync.Mutex
	printed map[string]int // 消息 ID -> 已输出的内容长度
	current *conversation.Operation
}

func newREPL(o *conversation.Orchestrator, in io.Reader, out io.Writer) *repl {
	return &repl{o: o, in: in, out: out, printed: make(map[string]int)}
}

// run 逐行读取输入直到 EOF、/quit 或 ctx 取消
func (r *repl) run(ctx context.Context) error {
	r.printf("%s\n", r.describeActive())
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		r.printf("> ")
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := r.handle(ctx, strings.TrimSpace(line))
			if err != nil {
				r.printf("error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// handle 执行一行输入
func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		op, err := r.o.Send(ctx, line)
		if err != nil {
			return false, err
		}
		return false, r.follow(ctx, op)
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "quit", "exit":
		return true, nil
	case "help":
		r.printf("%s", helpText)
	case "sessions":
		active := r.o.Registry().Active()
		for _, s := range r.o.Registry().Sessions() {
			mark := " "
			if s.ID == active.SessionID {
				mark = "*"
			}
			r.printf("%s %s  %s\n", mark, s.ID, s.Title)
		}
	case "new":
		s, err := r.o.CreateSession(ctx, arg)
		if err != nil {
			return false, err
		}
		r.printf("session %s created\n", s.ID)
	case "use":
		if err := r.o.SwitchSession(ctx, arg); err != nil {
			return false, err
		}
		r.printf("%s\n", r.describeActive())
		r.history()
	case "topics":
		active := r.o.Registry().Active()
		for _, t := range r.o.Registry().Topics(active.SessionID) {
			mark := " "
			if t.ID == active.TopicID {
				mark = "*"
			}
			r.printf("%s %s  %s\n", mark, t.ID, t.Title)
		}
	case "topic":
		if err := r.o.SwitchTopic(ctx, arg); err != nil {
			return false, err
		}
		r.printf("%s\n", r.describeActive())
		r.history()
	case "newtopic":
		t, err := r.o.CreateTopic(ctx, arg)
		if err != nil {
			return false, err
		}
		r.printf("topic %s created\n", t.ID)
	case "history":
		r.history()
	case "refresh":
		return false, r.o.Refresh(ctx)
	case "retry":
		id, err := r.target(arg, func(m *conversation.Message) bool {
			return m.Status == conversation.StatusError || m.Status == conversation.StatusCanceled
		})
		if err != nil {
			return false, err
		}
		op, err := r.o.Retry(ctx, id)
		if err != nil {
			return false, err
		}
		return false, r.follow(ctx, op)
	case "regen":
		id, err := r.target(arg, func(m *conversation.Message) bool { return m.Role == conversation.RoleAssistant })
		if err != nil {
			return false, err
		}
		op, err := r.o.Regenerate(ctx, id)
		if err != nil {
			return false, err
		}
		return false, r.follow(ctx, op)
	case "delete":
		if arg == "" {
			return false, conversation.ErrMessageNotFound
		}
		return false, r.o.DeleteMessage(ctx, arg)
	case "login":
		if err := r.o.Reauthenticate(ctx); err != nil {
			return false, err
		}
		r.printf("logged in\n")
	default:
		return false, fmt.Errorf("unknown command /%s, type /help", name)
	}
	return false, nil
}

// follow 等待操作结束，流式内容由 Handle 输出
func (r *repl) follow(ctx context.Context, op *conversation.Operation) error {
	r.mu.Lock()
	r.current = op
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.current = nil
		r.mu.Unlock()
	}()

	state, err := op.Wait(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	r.printf("\n")
	switch state {
	case conversation.OpCanceled:
		r.printf("[stopped]\n")
	case conversation.OpFailed:
		return err
	}
	return nil
}

// interrupt 停止当前生成，没有进行中的操作时返回 false
func (r *repl) interrupt() bool {
	r.mu.Lock()
	op := r.current
	r.mu.Unlock()
	if op == nil {
		return false
	}
	if id := op.AssistantMessageID(); id != "" && r.o.Cancel(id) {
		return true
	}
	return r.o.Cancel(op.UserMessageID())
}

// Handle 输出当前话题中生成中的助手内容增量
func (r *repl) Handle(ctx context.Context, evt *event.Event) error {
	switch evt.Type {
	case event.EventMessageRekeyed:
		r.mu.Lock()
		if n, ok := r.printed[evt.Data]; ok {
			delete(r.printed, evt.Data)
			r.printed[evt.MessageID] = n
		}
		r.mu.Unlock()
	case event.EventMessageUpserted:
		active := r.o.Registry().Active()
		if evt.SessionID != active.SessionID || evt.TopicID != active.TopicID {
			return nil
		}
		msg, ok := r.o.Store().Get(evt.MessageID)
		if !ok || msg.Role != conversation.RoleAssistant || msg.Status != conversation.StatusStreaming {
			return nil
		}
		r.mu.Lock()
		n := r.printed[msg.ID]
		if n > len(msg.Content) {
			n = 0
		}
		delta := msg.Content[n:]
		r.printed[msg.ID] = len(msg.Content)
		r.mu.Unlock()
		if delta != "" {
			r.printf("%s", delta)
		}
	case event.EventUnauthenticated:
		r.printf("\n[session expired, type /login]\n")
	}
	return nil
}

func (r *repl) history() {
	view := r.o.Snapshot()
	for _, m := range view.Messages {
		status := ""
		if m.Status != conversation.StatusConfirmed && m.Status != "" {
			status = " [" + string(m.Status) + "]"
		}
		r.printf("%-9s %s%s\n  %s\n", m.Role, shortID(m.ID), status, m.Content)
	}
}

// target 参数为空时选择当前话题中最后一条满足条件的消息
func (r *repl) target(arg string, match func(*conversation.Message) bool) (string, error) {
	if arg != "" {
		return arg, nil
	}
	msgs := r.o.Snapshot().Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if match(msgs[i]) {
			return msgs[i].ID, nil
		}
	}
	return "", conversation.ErrMessageNotFound
}

func (r *repl) describeActive() string {
	active := r.o.Registry().Active()
	if active.SessionID == "" {
		return "no session selected, the first message starts one"
	}
	s := "session " + active.SessionID
	if active.TopicID != "" {
		s += " / topic " + active.TopicID
	}
	return s
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

const helpText = `commands:
  /sessions            list sessions
  /new <title>         create a session
  /use <id>            switch session
  /topics              list topics
  /topic <id>          switch topic (empty for the default topic)
  /newtopic <title>    create a topic
  /history             show messages
  /refresh             reload messages from the server
  /retry [id]          retry a failed or stopped message
  /regen [id]          regenerate an assistant reply
  /delete <id>         delete a message
  /login               log in again after the session expired
  /quit                exit
`
