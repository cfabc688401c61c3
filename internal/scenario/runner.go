package scenario

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/frayproxy/fray/internal/config"
	"github.com/frayproxy/fray/internal/event"
	"github.com/frayproxy/fray/internal/geoip"
	"github.com/frayproxy/fray/internal/report"
)

// Runner drives a scenario against a live proxy: for each item it pushes
// the fault configuration through the watch channel, waits for the data
// plane to acknowledge it, performs the call and grades the result.
type Runner struct {
	ProxyAddr string
	Watch     *config.Watch
	Bus       *event.Bus
	Logger    zerolog.Logger
	// Geo annotates resolved upstream countries when non-nil.
	Geo *geoip.Locator
	// Seed propagates into each pushed ProxyConfig for reproducible runs.
	Seed uint64
}

// Run executes the scenario serially and returns the aggregated report.
// Item-level failures are recorded in the report and never abort the
// remaining items.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*report.Report, error) {
	started := time.Now()
	col := newCollector(r.Bus)
	defer col.close()

	out := &report.Report{
		ID:      uuid.NewString(),
		Title:   sc.Title,
		Started: started,
	}

	for idx, item := range sc.Items {
		units, err := expand(item)
		if err != nil {
			// Validation catches this before execution; guard anyway.
			out.Items = append(out.Items, report.ItemResult{
				Title:    itemTitle(item, idx),
				Errors:   []string{err.Error()},
				Decision: report.DecisionFailure,
			})
			continue
		}

		if item.Concurrent && len(units) > 1 {
			out.Items = append(out.Items, r.runConcurrent(ctx, item, idx, units, col)...)
			continue
		}

		for _, unit := range units {
			if unit.Wait > 0 {
				select {
				case <-time.After(unit.Wait):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			result := r.runUnit(ctx, idx, unit, col)
			out.Items = append(out.Items, result)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}
	}

	out.Completed = time.Now()
	out.Plugins = pluginInfos(out.Items)
	out.Summary = report.Summarize(out.Items)
	return out, nil
}

// runConcurrent executes expanded units in parallel. Each unit still
// rewrites the shared config before issuing its request, so concurrent
// mode is only meaningful when every unit shares one fault configuration.
func (r *Runner) runConcurrent(ctx context.Context, item Item, idx int, units []expandedItem, col *collector) []report.ItemResult {
	results := make([]report.ItemResult, len(units))
	var wg sync.WaitGroup
	for i, unit := range units {
		wg.Add(1)
		go func(i int, unit expandedItem) {
			defer wg.Done()
			results[i] = r.runUnit(ctx, idx, unit, col)
		}(i, unit)
	}
	wg.Wait()
	return results
}

// runUnit pushes the unit's configuration, performs the call and builds
// the report entry.
func (r *Runner) runUnit(ctx context.Context, idx int, unit expandedItem, col *collector) report.ItemResult {
	item := unit.Item
	result := report.ItemResult{
		Title:       itemTitle(item, idx),
		Description: item.Description,
		FaultType:   string(unit.Fault.Kind),
		Fault:       unit.Fault,
		Errors:      []string{},
	}

	cfg, err := config.NewProxyConfig(unit.Fault, item.Context.Upstreams)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		result.Decision = report.DecisionFailure
		return result
	}
	cfg.Seed = r.Seed

	version := r.Watch.Update(cfg)
	ackCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := r.Watch.WaitAck(ackCtx, version); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("configuration not acknowledged: %v", err))
		result.Decision = report.DecisionFailure
		return result
	}

	mark := col.mark()
	r.Logger.Info().
		Str("item", result.Title).
		Str("fault", result.FaultType).
		Msg("running scenario item")

	metrics, reqErr := r.executeCall(ctx, item.Call, item.Expect)
	if reqErr != nil {
		result.Errors = append(result.Errors, reqErr.Error())
	}
	if metrics != nil {
		r.annotateCountry(metrics)
		result.Metrics = append(result.Metrics, *metrics)
		result.TotalTime = metrics.Total
	}
	result.Decision = report.Decide(expectation(item.Expect), metrics, reqErr != nil)

	for taskID, events := range col.since(mark) {
		result.FaultEvents = append(result.FaultEvents, report.TaskFaultEvents{
			TaskID: uint64(taskID),
			Events: events,
		})
	}
	sort.Slice(result.FaultEvents, func(i, j int) bool {
		return result.FaultEvents[i].TaskID < result.FaultEvents[j].TaskID
	})
	return result
}

// executeCall performs one HTTP request through the proxy, measuring DNS
// time, connection time, TTFB, total time and body length.
func (r *Runner) executeCall(ctx context.Context, call Call, expect *Expectation) (*report.RequestMetrics, error) {
	proxyURL, err := url.Parse("http://" + r.ProxyAddr)
	if err != nil {
		return nil, fmt.Errorf("parse proxy address: %w", err)
	}
	client := &http.Client{
		Transport: &http.Transport{
			Proxy:             http.ProxyURL(proxyURL),
			DisableKeepAlives: true,
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
		},
		Timeout: 60 * time.Second,
	}

	var body io.Reader
	if call.Body != "" {
		body = strings.NewReader(call.Body)
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(call.Method), call.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range call.Headers {
		req.Header.Set(k, v)
	}

	m := &report.RequestMetrics{
		Request: &report.RequestInfo{
			Method:      req.Method,
			URL:         call.URL,
			Expectation: expectation(expect),
		},
	}

	var (
		dnsStart, connStart time.Time
		ttfb                time.Duration
		connTime            time.Duration
	)
	start := time.Now()
	trace := &httptrace.ClientTrace{
		DNSStart: func(info httptrace.DNSStartInfo) {
			dnsStart = time.Now()
			m.DNS.Host = info.Host
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			m.DNS.Duration = time.Since(dnsStart).Seconds()
		},
		ConnectStart: func(string, string) { connStart = time.Now() },
		ConnectDone: func(_, _ string, err error) {
			if err == nil {
				connTime = time.Since(connStart)
			}
		},
		GotFirstResponseByte: func() { ttfb = time.Since(start) },
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	// A response carrying X-Fray-Error was synthesized by the proxy (an
	// injected DNS failure, a failed dial), not produced by the upstream.
	// Surface it as the request error it stands for.
	if code := resp.Header.Get("X-Fray-Error"); code != "" {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("proxy fault %s: %s", code, string(msg))
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	total := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	m.Status = resp.StatusCode
	m.ConnectionTime = connTime.Seconds()
	m.TTFB = ttfb.Seconds()
	m.Total = total.Seconds()
	m.BodyLength = len(bodyBytes)

	met := evaluateExpectation(expect, m)
	m.ExpectationMet = met
	return m, nil
}

// annotateCountry attaches the GeoIP country of the resolved host.
func (r *Runner) annotateCountry(m *report.RequestMetrics) {
	if r.Geo == nil || m.DNS.Host == "" {
		return
	}
	addrs, err := net.LookupIP(m.DNS.Host)
	if err != nil || len(addrs) == 0 {
		return
	}
	m.DNS.Country = r.Geo.Country(addrs[0])
}

func evaluateExpectation(expect *Expectation, m *report.RequestMetrics) *bool {
	if expect == nil || (expect.Status == nil && expect.ResponseTimeUnder == nil) {
		return nil
	}
	met := true
	if expect.Status != nil && *expect.Status != m.Status {
		met = false
	}
	if expect.ResponseTimeUnder != nil && m.Total > *expect.ResponseTimeUnder/1000.0 {
		met = false
	}
	return &met
}

func expectation(e *Expectation) *report.Expectation {
	if e == nil {
		return nil
	}
	return &report.Expectation{Status: e.Status, ResponseTimeUnder: e.ResponseTimeUnder}
}

func itemTitle(item Item, idx int) string {
	if item.Title != "" {
		return item.Title
	}
	return fmt.Sprintf("item-%d", idx+1)
}

// pluginInfos lists the distinct fault kinds exercised across the run.
func pluginInfos(items []report.ItemResult) []report.PluginInfo {
	seen := map[string]struct{}{}
	var out []report.PluginInfo
	for _, item := range items {
		if item.FaultType == "" {
			continue
		}
		if _, ok := seen[item.FaultType]; ok {
			continue
		}
		seen[item.FaultType] = struct{}{}
		out = append(out, report.PluginInfo{Name: "builtin/" + item.FaultType, Kind: item.FaultType})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}
