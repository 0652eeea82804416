package vm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rtm0/era5-anomaly/internal/era5"
)

// Client is a Victoria Metrics client capable of inserting anomaly records
// via various protocols.
type Client struct {
	logger       *slog.Logger
	httpCli      *http.Client
	insertURL    string
	metricPrefix string
	recToText    recToTextFunc
}

const metricPrefixRE = "^[a-zA-Z0-9_]+$"

// NewClient creates a new VM client. The insert protocol is chosen by the
// path of insertURL.
func NewClient(logger *slog.Logger, insertURL string, maxConns int, metricPrefix string) (*Client, error) {
	url, err := url.Parse(insertURL)
	if err != nil {
		return nil, err
	}

	matches, err := regexp.MatchString(metricPrefixRE, metricPrefix)
	if err != nil {
		return nil, err
	}
	if !matches {
		return nil, fmt.Errorf("metric prefix %q does not match %q regular expression", metricPrefix, metricPrefixRE)
	}

	apiParams := apiParamsFuncs[url.Path]
	recToText := recToTextFuncs[url.Path]
	if apiParams == nil || recToText == nil {
		return nil, fmt.Errorf("inserting into %q is not supported", insertURL)
	}
	q := url.Query()
	for name, value := range apiParams(metricPrefix) {
		q.Set(name, value)
	}
	url.RawQuery = q.Encode()

	return &Client{
		logger: logger,
		httpCli: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        maxConns,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: maxConns,
				MaxConnsPerHost:     maxConns,
			},
		},
		insertURL:    url.String(),
		metricPrefix: metricPrefix,
		recToText:    recToText,
	}, nil
}

// Insert inserts anomaly records into Victoria Metrics.
func (c *Client) Insert(ctx context.Context, recs []era5.Record) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.insertURL, recsToText(recs, c.metricPrefix, c.recToText))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")
	res, err := c.httpCli.Do(req)
	if err != nil {
		return fmt.Errorf("could not post data: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	if _, err := io.Copy(io.Discard, res.Body); err != nil {
		c.logger.Warn("Failed to drain response body", "err", err)
	}
	return nil
}

type apiParamsFunc func(string) map[string]string

var apiParamsFuncs = map[string]apiParamsFunc{
	"/influx/write":        influxDBAPIParams,
	"/influx/api/v2/write": influxDBAPIParams,
	"/write":               influxDBAPIParams,
	"/api/v2/write":        influxDBAPIParams,
	"/api/v1/import/csv":   csvAPIParams,
}

func influxDBAPIParams(string) map[string]string {
	return map[string]string{"precision": "ms"}
}

func csvAPIParams(metricPrefix string) map[string]string {
	return map[string]string{
		"format": fmt.Sprintf(""+
			"1:time:unix_ms,"+
			"2:label:la,"+
			"3:label:lo,"+
			"4:metric:%[1]s_anomaly,"+
			"5:metric:%[1]s_latest,"+
			"6:metric:%[1]s_reference", metricPrefix),
	}
}

type recToTextFunc func(*strings.Builder, *era5.Record, string)

// recsToText converts multiple anomaly records to text. Cells without an
// anomaly are skipped.
func recsToText(recs []era5.Record, metricPrefix string, recToText recToTextFunc) io.Reader {
	var sb strings.Builder
	for i := range recs {
		if math.IsNaN(recs[i].Anomaly) {
			continue
		}
		recToText(&sb, &recs[i], metricPrefix)
		sb.WriteString("\n")
	}
	return strings.NewReader(sb.String())
}

var recToTextFuncs = map[string]recToTextFunc{
	"/influx/write":        recToInfluxDB,
	"/influx/api/v2/write": recToInfluxDB,
	"/write":               recToInfluxDB,
	"/api/v2/write":        recToInfluxDB,
	"/api/v1/import/csv":   recToCSV,
}

// recToInfluxDB converts an anomaly record into InfluxDB line protocol v2
// and appends it to the string builder. NaN values are left out of the field
// set.
func recToInfluxDB(sb *strings.Builder, r *era5.Record, metricPrefix string) {
	fmt.Fprintf(sb, "%s,la=%.2f,lo=%.2f ", metricPrefix, r.Latitude, r.Longitude)
	sep := ""
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"anomaly", r.Anomaly},
		{"latest", r.Latest},
		{"reference", r.Reference},
	} {
		if math.IsNaN(f.v) {
			continue
		}
		sb.WriteString(sep)
		sb.WriteString(f.name)
		sb.WriteString("=")
		sb.WriteString(formatValue(f.v))
		sep = ","
	}
	fmt.Fprintf(sb, " %d", r.Timestamp)
}

// recToCSV converts an anomaly record into a CSV record and appends it to
// the string builder. NaN values become empty columns.
func recToCSV(sb *strings.Builder, r *era5.Record, _ string) {
	fmt.Fprintf(sb, "%d,%.2f,%.2f,%s,%s,%s",
		r.Timestamp,
		r.Latitude,
		r.Longitude,
		formatValue(r.Anomaly),
		formatValue(r.Latest),
		formatValue(r.Reference))
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}
