package cdp

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/rpcc"

	cdpadapter "cdpwatch/internal/adapter/cdp"
	"cdpwatch/internal/logger"
	"cdpwatch/pkg/browser"
)

const defaultStartTimeout = 15 * time.Second

var chromeCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

// Launcher 启动 Chrome 或附加到已有 DevTools 端点
type Launcher struct {
	log logger.Logger
	// OnListenerError 响应监听器失败时调用，可为空
	OnListenerError func(error)
}

// NewLauncher 创建启动器
func NewLauncher(l logger.Logger) *Launcher {
	if l == nil {
		l = logger.NewNop()
	}
	return &Launcher{log: l}
}

var _ browser.Launcher = (*Launcher)(nil)

// Launch 启动会话，任何阶段失败都返回 *browser.LaunchError
func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Session, error) {
	s := &Session{log: l.log}

	devtoolsURL := opts.DevToolsURL
	if devtoolsURL == "" {
		url, err := s.startProcess(opts)
		if err != nil {
			return nil, &browser.LaunchError{Stage: "exec", Err: err}
		}
		devtoolsURL = url
	}
	s.devtoolsURL = devtoolsURL

	timeout := defaultStartTimeout
	if opts.StartTimeoutMS > 0 {
		timeout = time.Duration(opts.StartTimeoutMS) * time.Millisecond
	}
	dt := devtool.New(devtoolsURL)
	if err := waitDevTools(ctx, dt, timeout); err != nil {
		s.Close()
		return nil, &browser.LaunchError{Stage: "devtools", Err: err}
	}

	pt, err := dt.Get(ctx, devtool.Page)
	if err != nil {
		pt, err = dt.Create(ctx)
		if err != nil {
			s.Close()
			return nil, &browser.LaunchError{Stage: "target", Err: err}
		}
	}

	conn, err := rpcc.DialContext(ctx, pt.WebSocketDebuggerURL)
	if err != nil {
		s.Close()
		return nil, &browser.LaunchError{Stage: "dial", Err: err}
	}
	s.conn = conn
	s.client = cdp.NewClient(conn)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.page = newPage(s.client, l.log, l.OnListenerError)

	if err := s.init(ctx, opts); err != nil {
		s.Close()
		return nil, &browser.LaunchError{Stage: "init", Err: err}
	}
	l.log.Info("浏览器会话已就绪", "devtools", devtoolsURL, "target", string(pt.ID))
	return s, nil
}

// Session 基于 CDP 的浏览器会话
type Session struct {
	devtoolsURL string
	cmd         *exec.Cmd
	userDataDir string
	conn        *rpcc.Conn
	client      *cdp.Client
	page        *Page
	ctx         context.Context
	cancel      context.CancelFunc
	log         logger.Logger

	closeOnce sync.Once
}

var _ browser.Session = (*Session)(nil)

func (s *Session) Page() browser.Page  { return s.page }
func (s *Session) DevToolsURL() string { return s.devtoolsURL }

// init 启用所需的 CDP 域并开始消费事件
func (s *Session) init(ctx context.Context, opts browser.LaunchOptions) error {
	if err := s.client.Network.Enable(ctx, nil); err != nil {
		return fmt.Errorf("network.enable: %w", err)
	}
	if len(opts.Cookies) > 0 {
		args := network.NewSetCookiesArgs(cdpadapter.ToCookieParams(opts.Cookies))
		if err := s.client.Network.SetCookies(ctx, args); err != nil {
			return fmt.Errorf("network.setCookies: %w", err)
		}
	}

	ready := make(chan error, 1)
	go func() {
		err := s.page.consume(s.ctx, ready)
		if err != nil && s.ctx.Err() == nil {
			s.log.Err(err, "响应事件流中断")
		}
	}()
	if err := <-ready; err != nil {
		return fmt.Errorf("subscribe network events: %w", err)
	}

	if opts.Proxy != nil && opts.Proxy.Username != "" {
		if err := enableProxyAuth(ctx, s.ctx, s.client, opts.Proxy, s.log); err != nil {
			return fmt.Errorf("proxy auth: %w", err)
		}
	}
	return nil
}

// startProcess 启动浏览器进程，返回 DevTools HTTP 地址
func (s *Session) startProcess(opts browser.LaunchOptions) (string, error) {
	path, err := resolveChrome(opts.ChromePath)
	if err != nil {
		return "", err
	}
	port, err := freePort()
	if err != nil {
		return "", err
	}
	dir, err := os.MkdirTemp("", "cdpwatch-profile-")
	if err != nil {
		return "", err
	}
	s.userDataDir = dir

	args := buildArgs(opts, port, dir, rand.Intn)
	cmd := exec.Command(path, args...)
	if err := cmd.Start(); err != nil {
		os.RemoveAll(dir)
		s.userDataDir = ""
		return "", err
	}
	s.cmd = cmd
	s.log.Debug("浏览器进程已启动", "path", path, "pid", cmd.Process.Pid, "port", port)
	return fmt.Sprintf("http://127.0.0.1:%d", port), nil
}

// Close 关闭连接并结束自己启动的浏览器进程
func (s *Session) Close() error {
	err := browser.ErrClosed
	s.closeOnce.Do(func() {
		err = nil
		if s.cancel != nil {
			s.cancel()
		}
		if s.conn != nil {
			if cerr := s.conn.Close(); cerr != nil {
				err = cerr
			}
		}
		if s.cmd != nil && s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
			_ = s.cmd.Wait()
		}
		if s.userDataDir != "" {
			_ = os.RemoveAll(s.userDataDir)
		}
		s.log.Info("浏览器会话已关闭", "devtools", s.devtoolsURL)
	})
	return err
}

// waitDevTools 固定间隔探测 DevTools 端点直到可用
func waitDevTools(ctx context.Context, dt *devtool.DevTools, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		_, err := dt.Version(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("devtools not reachable: %w", errors.Join(ctx.Err(), err))
		case <-tick.C:
		}
	}
}

// buildArgs 组装浏览器启动参数
func buildArgs(opts browser.LaunchOptions, port int, userDataDir string, intn func(int) int) []string {
	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		"--user-data-dir=" + userDataDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-background-networking",
	}
	if opts.Headless {
		args = append(args, "--headless=new", "--disable-gpu")
	}
	if opts.DisableImages {
		args = append(args, "--blink-settings=imagesEnabled=false")
	}
	if server := pickProxy(opts.Proxy, intn); server != "" {
		args = append(args, "--proxy-server="+server)
	}
	args = append(args, opts.Args...)
	return append(args, "about:blank")
}

// pickProxy 从代理列表中随机选一个
func pickProxy(p *browser.Proxy, intn func(int) int) string {
	if p == nil || len(p.Items) == 0 {
		return ""
	}
	item := p.Items[intn(len(p.Items))]
	if strings.Contains(item, "://") {
		return item
	}
	return "http://" + item
}

// resolveChrome 优先使用配置路径，否则在 PATH 中查找常见名称
func resolveChrome(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("chrome executable %q: %w", configured, err)
		}
		return configured, nil
	}
	for _, name := range chromeCandidates {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", errors.New("chrome executable not found")
}

func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
