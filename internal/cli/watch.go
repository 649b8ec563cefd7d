package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"cdpwatch/internal/metrics"
	"cdpwatch/internal/storage"
	"cdpwatch/pkg/api"
	"cdpwatch/pkg/browser"
	"cdpwatch/pkg/grpcweb"
	"cdpwatch/pkg/rulespec"
)

var (
	watchFlagURL         string
	watchFlagRuleFile    string
	watchFlagName        string
	watchFlagDomain      string
	watchFlagPath        string
	watchFlagStatus      int
	watchFlagContentType string
	watchFlagDecode      bool
	watchFlagDB          string
	watchFlagExtract     string
	watchFlagBody        bool
	watchFlagDuration    time.Duration
	watchFlagMetricsAddr string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Subscribe to responses and print one JSON line per dispatch",
	Long: `Launch a browser, register response rules, navigate and print every
dispatched response as a JSON line until interrupted or --duration elapses.

Rules come from watch.rules in the config file, --rule-file, and the
--domain/--path/--status/--content-type flags; all of them are registered.

Examples:
  cdpwatch watch --url https://example.com --domain example.com --path /api --content-type application/json
  cdpwatch watch --url https://shop.example --rule-file rules.yaml --db captures.sqlite3
  cdpwatch watch --url https://example.com --domain rpc --path Check --content-type application/grpc-web-text --decode
  cdpwatch watch --url https://example.com --domain api --path /items --extract data.items.#.id --duration 30s`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := watchRules()
		if err != nil {
			return err
		}
		if len(rules) == 0 {
			return errors.New("no rules: use --rule-file, --domain/--path or watch.rules in the config file")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if watchFlagDuration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, watchFlagDuration)
			defer cancel()
		}

		var collector *metrics.Collector
		if watchFlagMetricsAddr != "" {
			reg := prometheus.NewRegistry()
			collector = metrics.New(reg)
			srv := serveMetrics(watchFlagMetricsAddr, reg)
			defer func() { _ = srv.Close() }()
		}

		var store *storage.Store
		if dsn := captureDSN(); dsn != "" {
			store, err = storage.Open(storage.Options{DSN: dsn, Prefix: cfg.Sqlite.Prefix}, log)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
		}

		svc := api.NewService(api.Options{Logger: log, Metrics: collector})
		defer func() { _ = svc.Close() }()

		id, err := svc.StartSession(ctx, cfg.Browser)
		if err != nil {
			return err
		}

		rec := &recorder{
			w:        cmd.OutOrStdout(),
			store:    store,
			extract:  watchFlagExtract,
			withBody: watchFlagBody,
		}
		for _, r := range rules {
			if r.Decode() == rulespec.DecodeGrpcWeb {
				_, err = svc.WatchGrpcWeb(id, r, rec.grpcCallback(r))
			} else {
				_, err = svc.WatchResponse(id, r, rec.callback(r))
			}
			if err != nil {
				return fmt.Errorf("register rule %s: %w", r.Name(), err)
			}
		}

		if watchFlagURL != "" {
			if err := svc.Navigate(ctx, id, watchFlagURL); err != nil {
				return err
			}
		}
		log.Info("开始监听响应", "session", string(id), "rules", len(rules))

		<-ctx.Done()
		if st, err := svc.Stats(id); err == nil {
			log.Info("监听结束", "total", st.Total, "dispatched", st.Dispatched, "matched", st.Matched)
		}
		if store != nil {
			n, err := store.Count(context.Background(), string(id))
			if err != nil {
				return err
			}
			log.Info("捕获记录已保存", "session", string(id), "count", n)
		}
		return nil
	},
}

func init() {
	f := watchCmd.Flags()
	f.StringVarP(&watchFlagURL, "url", "u", "", "Page to open after rules are registered")
	f.StringVarP(&watchFlagRuleFile, "rule-file", "f", "", "YAML rule file")
	f.StringVar(&watchFlagName, "name", "", "Name of the flag-defined rule")
	f.StringVar(&watchFlagDomain, "domain", "", "Domain pattern (regular expression over the URL)")
	f.StringVar(&watchFlagPath, "path", "", "Path pattern (regular expression over the URL)")
	f.IntVar(&watchFlagStatus, "status", 200, "Expected status code")
	f.StringVar(&watchFlagContentType, "content-type", "", "Exact content-type")
	f.BoolVar(&watchFlagDecode, "decode", false, "Decode gRPC-Web status for the flag-defined rule")
	f.StringVar(&watchFlagDB, "db", "", "SQLite DSN for storing captures (overrides sqlite.dsn)")
	f.StringVar(&watchFlagExtract, "extract", "", "gjson path evaluated against JSON bodies")
	f.BoolVar(&watchFlagBody, "body", false, "Include the response body in output")
	f.DurationVar(&watchFlagDuration, "duration", 0, "Stop after this long (0 waits for interrupt)")
	f.StringVar(&watchFlagMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

// captureDSN --db 优先，其次为配置文件中的 sqlite.dsn，均为空时不落库
func captureDSN() string {
	if watchFlagDB != "" {
		return watchFlagDB
	}
	return cfg.Sqlite.Dsn
}

// watchRules 合并配置文件、规则文件与命令行中的规则
func watchRules() ([]rulespec.MatchRule, error) {
	specs := append([]rulespec.Spec(nil), cfg.Watch.Rules...)
	if watchFlagRuleFile != "" {
		rc, err := rulespec.LoadFile(watchFlagRuleFile)
		if err != nil {
			return nil, err
		}
		specs = append(specs, rc.Rules...)
	}
	if watchFlagDomain != "" || watchFlagPath != "" {
		s := rulespec.Spec{
			Name:        watchFlagName,
			Domain:      watchFlagDomain,
			Path:        watchFlagPath,
			Status:      watchFlagStatus,
			ContentType: watchFlagContentType,
		}
		if watchFlagDecode {
			s.Decode = rulespec.DecodeGrpcWeb
		}
		specs = append(specs, s)
	}
	rc := rulespec.Config{Rules: specs}
	return rc.CompileAll()
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err, "指标服务退出", "addr", addr)
		}
	}()
	log.Info("指标服务已启动", "addr", addr)
	return srv
}

// record 一次分发的输出内容
type record struct {
	Time        time.Time
	Rule        string
	URL         string
	Status      int
	ContentType string
	Matched     bool
	Decoded     *grpcweb.Decoded
	Body        []byte
	IncludeBody bool
}

// buildLine 将记录编码为一行 JSON，extract 非空时附带 gjson 提取结果
func buildLine(r record, extract string) (string, error) {
	line := "{}"
	var err error
	set := func(path string, v any) {
		if err == nil {
			line, err = sjson.Set(line, path, v)
		}
	}
	set("time", r.Time.Format(time.RFC3339Nano))
	set("rule", r.Rule)
	set("url", r.URL)
	set("status", r.Status)
	set("contentType", r.ContentType)
	set("matched", r.Matched)
	if r.Decoded != nil {
		set("grpc.status", r.Decoded.Status.String())
		set("grpc.text", r.Decoded.Text)
		if f := r.Decoded.Framed; f != nil {
			set("grpc.framed.status", f.Status.String())
			set("grpc.framed.text", f.Text)
			set("grpc.framed.compressed", f.Compressed)
		}
	}
	if r.IncludeBody {
		set("body", string(r.Body))
	}
	if extract != "" && err == nil {
		if res := gjson.GetBytes(r.Body, extract); res.Exists() {
			line, err = sjson.SetRaw(line, "extract", res.Raw)
		}
	}
	return line, err
}

// recorder 打印并可选落库分发结果，多个订阅并发调用
type recorder struct {
	mu       sync.Mutex
	w        io.Writer
	store    *storage.Store
	extract  string
	withBody bool
}

func (rc *recorder) callback(rule rulespec.MatchRule) api.ResponseCallback {
	return func(ctx context.Context, _ browser.Page, resp browser.Response, matched bool) error {
		return rc.handle(ctx, rule, resp, matched, nil)
	}
}

func (rc *recorder) grpcCallback(rule rulespec.MatchRule) api.GrpcResponseCallback {
	return func(ctx context.Context, _ browser.Page, resp browser.Response, matched bool, d grpcweb.Decoded) error {
		return rc.handle(ctx, rule, resp, matched, &d)
	}
}

func (rc *recorder) handle(ctx context.Context, rule rulespec.MatchRule, resp browser.Response, matched bool, d *grpcweb.Decoded) error {
	r := record{
		Time:        time.Now(),
		Rule:        rule.Name(),
		URL:         resp.URL(),
		Status:      resp.Status(),
		ContentType: resp.Headers().ContentType(),
		Matched:     matched,
		Decoded:     d,
		IncludeBody: rc.withBody,
	}
	if rc.withBody || rc.extract != "" {
		body, err := resp.Body(ctx)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		r.Body = body
	}

	line, err := buildLine(r, rc.extract)
	if err != nil {
		return err
	}
	rc.mu.Lock()
	_, err = fmt.Fprintln(rc.w, line)
	rc.mu.Unlock()
	if err != nil {
		return err
	}

	if rc.store == nil {
		return nil
	}
	c := &storage.Capture{
		Rule:        r.Rule,
		URL:         r.URL,
		StatusCode:  r.Status,
		ContentType: r.ContentType,
		Matched:     matched,
		CapturedAt:  r.Time,
	}
	if d != nil {
		c.GrpcStatus = d.Status.String()
	}
	if rc.withBody {
		c.Body = string(r.Body)
	}
	return rc.store.Save(ctx, c)
}
