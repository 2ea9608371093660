package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"whatsapp-alert/internal/alert"
	"whatsapp-alert/internal/config"
	"whatsapp-alert/internal/logging"
)

const maxIngestBytes = 1 << 20

// Trigger starts passes on behalf of HTTP callers.
type Trigger interface {
	Payload(ctx context.Context, data []byte, source string) (alert.PassResult, error)
	Heartbeat(ctx context.Context, source string) alert.PassResult
}

// CooldownReader exposes the persisted cooldown map.
type CooldownReader interface {
	Cooldowns(ctx context.Context) alert.CooldownState
}

// HistoryReader lists recently fired alerts.
type HistoryReader interface {
	Recent(ctx context.Context, n int, tag string) ([]alert.Record, error)
}

// Server 提供健康检查、指标、手动触发和告警状态查询接口。
type Server struct {
	cfg       config.WebConfig
	device    string
	trigger   Trigger
	cooldowns CooldownReader
	history   HistoryReader
	srv       *http.Server
}

// NewServer wires the routes. history may be nil when no index is configured.
func NewServer(cfg *config.Config, trigger Trigger, cooldowns CooldownReader, history HistoryReader) *Server {
	s := &Server{
		cfg:       cfg.Web,
		device:    cfg.DeviceName,
		trigger:   trigger,
		cooldowns: cooldowns,
		history:   history,
	}
	addr := s.cfg.Listen
	if addr == "" {
		addr = ":8080"
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ingest", s.handleIngest).Methods(http.MethodPost)
	r.HandleFunc("/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	r.HandleFunc("/cooldowns", s.handleCooldowns).Methods(http.MethodGet)
	r.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	return r
}

// Start 会在配置的监听地址上启动 HTTP 服务（阻塞调用）。
// 建议在单独的 goroutine 中启动。
func (s *Server) Start() error {
	if !s.cfg.Enabled {
		logging.Infof("Web 服务未开启（配置中 web.enabled=false）")
		return nil
	}
	logging.Infof("Web 服务已启动，监听地址=%s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("读取请求体失败: %v", err))
		return
	}
	if len(data) > maxIngestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	res, err := s.trigger.Payload(r.Context(), data, "http")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.trigger.Heartbeat(r.Context(), "manual"))
}

func (s *Server) handleCooldowns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cooldowns.Cooldowns(r.Context()))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "alert history is not enabled")
		return
	}
	n := 20
	if v := r.URL.Query().Get("size"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 500 {
			writeError(w, http.StatusBadRequest, "size must be between 1 and 500")
			return
		}
		n = parsed
	}
	records, err := s.history.Recent(r.Context(), n, r.URL.Query().Get("tag"))
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("查询告警历史失败: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type cooldownRow struct {
	Key     string
	FiredAt string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	state := s.cooldowns.Cooldowns(r.Context())
	rows := make([]cooldownRow, 0, len(state))
	for k, v := range state {
		rows = append(rows, cooldownRow{Key: k, FiredAt: v})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })

	data := struct {
		Title  string
		Device string
		Rows   []cooldownRow
	}{
		Title:  "阈值告警状态",
		Device: s.device,
		Rows:   rows,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, data); err != nil {
		logging.Errorf("渲染状态页面失败: %v", err)
	}
}

var indexTmpl = template.Must(template.New("status").Parse(indexHTML))

const indexHTML = `
<!DOCTYPE html>
<html lang="zh-CN">
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <style>
    body {
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif;
      margin: 0;
      background-color: #f5f5f7;
      color: #27272a;
    }
    .container { max-width: 960px; margin: 32px auto; padding: 0 16px; }
    .card {
      background: #ffffff;
      border-radius: 12px;
      box-shadow: 0 10px 25px rgba(15, 23, 42, 0.08);
      padding: 24px 28px;
    }
    h1 { font-size: 22px; margin: 0 0 8px; }
    .meta { color: #71717a; font-size: 14px; margin-bottom: 16px; }
    table { width: 100%; border-collapse: collapse; font-size: 14px; }
    th, td { text-align: left; padding: 8px 4px; border-bottom: 1px solid #e4e4e7; }
    td.key { font-family: SFMono-Regular, Menlo, Consolas, monospace; }
    .empty { color: #a1a1aa; }
  </style>
</head>
<body>
  <div class="container">
    <div class="card">
      <h1>{{.Title}}</h1>
      <div class="meta">设备：{{.Device}}</div>
      {{if .Rows}}
      <table>
        <tr><th>规则</th><th>最近触发时间 (UTC)</th></tr>
        {{range .Rows}}<tr><td class="key">{{.Key}}</td><td>{{.FiredAt}}</td></tr>
        {{end}}
      </table>
      {{else}}
      <div class="empty">暂无冷却中的规则</div>
      {{end}}
    </div>
  </div>
</body>
</html>
`
