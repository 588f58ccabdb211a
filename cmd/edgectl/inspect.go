package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmerrifield20/EdgeSentinel/internal/defense"
	"github.com/jmerrifield20/EdgeSentinel/internal/detect"
	"github.com/jmerrifield20/EdgeSentinel/internal/storage"
	"github.com/jmerrifield20/EdgeSentinel/internal/threat"
	"github.com/jmerrifield20/EdgeSentinel/pkg/client"
)

var (
	inspectMethod  string
	inspectPath    string
	inspectQuery   string
	inspectBody    string
	inspectHeaders []string
	inspectLocal   bool
	inspectFormat  string
	requestTimeout = 10 * time.Second
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Run a described request through detection and threat analysis",
	Long: `Inspect runs detect → analyze → decide on a request described by flags.

By default the request is sent to the sentinel's /api/v1/inspect endpoint and
the result is logged there. With --local the pipeline runs in-process against
an empty in-memory store:

  edgectl inspect --local --path "/file/..%2F..%2Fetc%2Fpasswd"
  edgectl inspect -X POST --body '{"q":"<script>alert(1)</script>"}'
  edgectl inspect -H "X-Forwarded-Host: evil.example%0d%0aSet-Cookie: a=1"`,
	Args: cobra.NoArgs,
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVarP(&inspectMethod, "method", "X", http.MethodGet, "HTTP method")
	inspectCmd.Flags().StringVar(&inspectPath, "path", "/", "Escaped request path")
	inspectCmd.Flags().StringVar(&inspectQuery, "query", "", "Raw query string without '?'")
	inspectCmd.Flags().StringVar(&inspectBody, "body", "", "Request body")
	inspectCmd.Flags().StringArrayVarP(&inspectHeaders, "header", "H", nil, `Request header "Key: value" (repeatable)`)
	inspectCmd.Flags().BoolVar(&inspectLocal, "local", false, "Run the pipeline in-process instead of calling the sentinel")
	inspectCmd.Flags().StringVar(&inspectFormat, "format", "text", "Output format: text or json")
}

func runInspect(cmd *cobra.Command, _ []string) error {
	headers, err := parseHeaders(inspectHeaders)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	var res *client.InspectResult
	if inspectLocal {
		res = inspectInProcess(ctx, headers)
	} else {
		c, err := client.New(sentinelURL, client.WithTimeout(requestTimeout))
		if err != nil {
			return err
		}
		res, err = c.Inspect(ctx, client.InspectRequest{
			Method:  inspectMethod,
			Path:    inspectPath,
			Query:   inspectQuery,
			Body:    inspectBody,
			Headers: headers,
		})
		if err != nil {
			return fmt.Errorf("inspect: %w", err)
		}
	}

	if inspectFormat == "json" {
		return printJSON(cmd.OutOrStdout(), res)
	}
	return printInspect(cmd.OutOrStdout(), res)
}

func inspectInProcess(ctx context.Context, headers map[string]string) *client.InspectResult {
	h := make(http.Header, len(headers))
	for k, v := range headers {
		h.Set(k, v)
	}
	svc := newLocalService()
	v := svc.Inspect(ctx, defense.Inbound{
		Request: detect.Request{
			Method:        inspectMethod,
			Path:          inspectPath,
			Query:         inspectQuery,
			Body:          []byte(inspectBody),
			Headers:       h,
			ContentLength: int64(len(inspectBody)),
		},
		Source:    "edgectl",
		UserAgent: h.Get("User-Agent"),
	})
	return resultFromVerdict(v)
}

// newLocalService wires the default pipeline over an in-memory store.
func newLocalService() *defense.Service {
	store := storage.NewMemoryStore()
	engine := threat.NewEngine(
		threat.NewAdjuster(store, zap.NewNop()),
		threat.DefaultThresholds(),
		"heuristic-v1",
	)
	svc := defense.NewService(detect.NewDetector(detect.DefaultRuleSet()), engine, zap.NewNop())
	svc.SetStore(store)
	return svc
}

// parseHeaders turns "Key: value" flags into a map. Values are kept
// verbatim, including escaped CR/LF sequences.
func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for _, h := range raw {
		k, v, ok := strings.Cut(h, ":")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid header %q: want \"Key: value\"", h)
		}
		out[k] = strings.TrimLeft(v, " ")
	}
	return out, nil
}
