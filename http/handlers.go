package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"churnrisk/errs"
	"churnrisk/ml"
	"churnrisk/pipeline"
)

// API 评分接口处理器
type API struct {
	deps        Deps
	previewRows int
}

// Register 注册所有路由
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("GET /api/schema", a.handleSchema)
	mux.HandleFunc("POST /api/predict", a.handlePredict)
	mux.HandleFunc("POST /api/predict/batch", a.handlePredictBatch)
	mux.HandleFunc("GET /api/runs", a.handleRuns)
	if a.deps.Hub != nil {
		mux.Handle("GET /api/ws/runs", a.deps.Hub)
	}
	if a.deps.Metrics != nil {
		mux.Handle("GET /metrics", a.deps.Metrics.Handler())
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	if a.deps.Metrics != nil {
		resp["system"] = a.deps.Metrics.SystemStats()
	}
	if a.deps.Hub != nil {
		resp["ws_clients"] = a.deps.Hub.ClientCount()
	}
	respondJSON(w, http.StatusOK, resp)
}

type fieldResponse struct {
	Name    string      `json:"name"`
	Kind    string      `json:"kind"`
	Default interface{} `json:"default"`
}

type schemaResponse struct {
	Fields []fieldResponse `json:"fields"`
	Model  ml.Info         `json:"model"`
}

func (a *API) handleSchema(w http.ResponseWriter, r *http.Request) {
	specs := a.deps.Predictor.Registry().Fields()
	resp := schemaResponse{Fields: make([]fieldResponse, len(specs)), Model: a.deps.Model}
	for i, spec := range specs {
		resp.Fields[i] = fieldResponse{Name: spec.Name, Kind: string(spec.Kind), Default: spec.Default.Interface()}
	}
	respondJSON(w, http.StatusOK, resp)
}

type predictResponse struct {
	RunID              string             `json:"run_id"`
	ChurnProbability   float64            `json:"churn_probability"`
	ProbabilityPercent string             `json:"probability_percent"`
	RiskLabel          pipeline.RiskLabel `json:"risk_label"`
	RiskTitle          string             `json:"risk_title"`
}

// handlePredict 单条评分：JSON对象或表单字段，严格模式
func (a *API) handlePredict(w http.ResponseWriter, r *http.Request) {
	raw, err := a.decodeRecord(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	res, err := a.deps.Predictor.PredictOne(raw)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, predictResponse{
		RunID:              res.RunID,
		ChurnProbability:   res.Probability,
		ProbabilityPercent: fmt.Sprintf("%.2f%%", res.Probability*100),
		RiskLabel:          res.Risk,
		RiskTitle:          res.Risk.Title(),
	})
}

func (a *API) decodeRecord(r *http.Request) (pipeline.RawRecord, error) {
	order := a.deps.Predictor.Registry().FieldNames()
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/json", "":
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		var body map[string]interface{}
		if err := dec.Decode(&body); err != nil {
			return pipeline.RawRecord{}, &requestError{status: http.StatusBadRequest, msg: "request body must be a JSON object", err: err}
		}
		return pipeline.RawRecordFromMap(body, order), nil

	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return pipeline.RawRecord{}, &requestError{status: http.StatusBadRequest, msg: "malformed form body", err: err}
		}
		values := make(map[string]interface{}, len(r.PostForm))
		for name, vs := range r.PostForm {
			if len(vs) > 0 {
				values[name] = vs[0]
			}
		}
		return pipeline.RawRecordFromMap(values, order), nil
	}
	return pipeline.RawRecord{}, &requestError{status: http.StatusUnsupportedMediaType, msg: "unsupported content type " + mediaType}
}

type batchPreview struct {
	RunID         string                  `json:"run_id"`
	Rows          int                     `json:"rows"`
	Columns       []string                `json:"columns"`
	Preview       [][]string              `json:"preview"`
	LabelCounts   pipeline.LabelCounts    `json:"label_counts"`
	Substitutions []pipeline.Substitution `json:"substitutions"`
}

// handlePredictBatch 批量评分：CSV原文或multipart文件，宽松模式
func (a *API) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	table, err := a.readTable(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	res, err := a.deps.Predictor.PredictBatch(table)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	if wantsJSON(r) {
		n := len(res.Records)
		if n > a.previewRows {
			n = a.previewRows
		}
		preview := make([][]string, n)
		for i := range preview {
			preview[i] = pipeline.Cells(res.Header, res.Records[i])
		}
		subs := res.Substitutions
		if subs == nil {
			subs = []pipeline.Substitution{}
		}
		respondJSON(w, http.StatusOK, batchPreview{
			RunID:         res.RunID,
			Rows:          len(res.Records),
			Columns:       res.Header,
			Preview:       preview,
			LabelCounts:   res.Labels,
			Substitutions: subs,
		})
		return
	}

	var buf bytes.Buffer
	if err := pipeline.WriteTable(&buf, res.Header, res.Records); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="churn_predictions.csv"`)
	w.Header().Set("X-Run-ID", res.RunID)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (a *API) readTable(r *http.Request) (*pipeline.Table, error) {
	var body io.Reader = r.Body
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, &requestError{status: http.StatusBadRequest, msg: `multipart upload needs a "file" part`, err: err}
		}
		defer file.Close()
		body = file
	}

	opts := pipeline.ReadOptions{Charset: r.FormValue("charset")}
	if d := r.FormValue("delimiter"); d != "" {
		if d == `\t` || strings.EqualFold(d, "tab") {
			d = "\t"
		}
		if utf8.RuneCountInString(d) != 1 {
			return nil, &requestError{status: http.StatusBadRequest, msg: "delimiter must be a single character"}
		}
		opts.Delimiter, _ = utf8.DecodeRuneInString(d)
	}
	return pipeline.ReadTable(body, opts)
}

func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	return r.URL.Query().Get("format") == "json"
}

// handleRuns 最近的运行记录
func (a *API) handleRuns(w http.ResponseWriter, r *http.Request) {
	if a.deps.Runs == nil {
		respondError(w, http.StatusServiceUnavailable, "run_log_disabled", "run log is not configured")
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		l, err := strconv.Atoi(s)
		if err != nil || l <= 0 || l > 1000 {
			respondError(w, http.StatusBadRequest, "bad_request", "limit must be between 1 and 1000")
			return
		}
		limit = l
	}
	runs, err := a.deps.Runs(limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// writeError 将错误映射到状态码
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusFor(err)
	fields := []zap.Field{
		zap.String("request_id", GetRequestID(r.Context())),
		zap.String("kind", kind),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		a.deps.Logger.Error("request failed", fields...)
	} else {
		a.deps.Logger.Debug("request rejected", fields...)
	}

	msg := err.Error()
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		msg = reqErr.msg
	}
	if status >= http.StatusInternalServerError {
		msg = strings.ToLower(http.StatusText(status))
	}
	respondError(w, status, kind, msg)
}

func statusFor(err error) (int, string) {
	var (
		reqErr      *requestError
		maxBytesErr *http.MaxBytesError
	)
	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge, "request_too_large"
	case errors.As(err, &reqErr):
		return reqErr.status, "bad_request"
	}

	kind := errs.Kind(err)
	switch kind {
	case "type_mismatch", "malformed_table":
		return http.StatusBadRequest, kind
	case "batch_too_large":
		return http.StatusRequestEntityTooLarge, kind
	case "scoring_unavailable":
		return http.StatusServiceUnavailable, kind
	default:
		return http.StatusInternalServerError, kind
	}
}

// requestError 请求本身不合法
type requestError struct {
	status int
	msg    string
	err    error
}

func (e *requestError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *requestError) Unwrap() error { return e.err }

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, kind, msg string) {
	respondJSON(w, status, map[string]string{"error": msg, "kind": kind})
}
