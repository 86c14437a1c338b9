package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsReader    int64
	errorsWriter    int64
	warnsReader     int64
	warnsWriter     int64
	pagesRead       int64
	filesWritten    int64
	emptyDays       int64
	skippedExisting int64
	rateLimitHits   int64
	s3Mirrors       int64
	channels        sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "reader") || strings.Contains(component, "finnhub") {
		atomic.AddInt64(&warnsReader, 1)
	} else if strings.Contains(component, "writer") {
		atomic.AddInt64(&warnsWriter, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "reader") || strings.Contains(component, "finnhub") {
		atomic.AddInt64(&errorsReader, 1)
	} else if strings.Contains(component, "writer") {
		atomic.AddInt64(&errorsWriter, 1)
	}
}

// IncrementPageRead records a successful paginated API response of the given size.
func IncrementPageRead(size int) {
	atomic.AddInt64(&pagesRead, 1)
	recordChannel("finnhub_rest", size)
}

// IncrementFileWrite records a completed output file of the given size.
func IncrementFileWrite(size int64) {
	atomic.AddInt64(&filesWritten, 1)
	recordChannel("local_write", int(size))
}

// IncrementEmptyDay records a (symbol, day) pair for which the API returned no rows.
func IncrementEmptyDay() {
	atomic.AddInt64(&emptyDays, 1)
}

// IncrementSkippedExisting records a (symbol, day) pair skipped because its
// output file already exists and overwriting is disabled.
func IncrementSkippedExisting() {
	atomic.AddInt64(&skippedExisting, 1)
}

// IncrementRateLimitHit records an HTTP 429 from the vendor API.
func IncrementRateLimitHit() {
	atomic.AddInt64(&rateLimitHits, 1)
}

// IncrementS3Mirror records an output file mirrored to S3.
func IncrementS3Mirror(size int64) {
	atomic.AddInt64(&s3Mirrors, 1)
	recordChannel("s3_mirror", int(size))
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and download statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

// LogFinalReport emits one last runtime report, used when a run completes.
func LogFinalReport(ctx context.Context, log *Log) {
	logReport(ctx, log)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_reader":    atomic.LoadInt64(&errorsReader),
		"errors_writer":    atomic.LoadInt64(&errorsWriter),
		"warns_reader":     atomic.LoadInt64(&warnsReader),
		"warns_writer":     atomic.LoadInt64(&warnsWriter),
		"pages_read":       atomic.LoadInt64(&pagesRead),
		"files_written":    atomic.LoadInt64(&filesWritten),
		"empty_days":       atomic.LoadInt64(&emptyDays),
		"skipped_existing": atomic.LoadInt64(&skippedExisting),
		"rate_limit_hits":  atomic.LoadInt64(&rateLimitHits),
		"s3_mirrors":       atomic.LoadInt64(&s3Mirrors),
		"goroutines":       runtime.NumGoroutine(),
		"cpu_percent":      cpuPct,
		"memory_mb":        int64(memStats.Used) / 1024 / 1024,
		"disk_mb":          int64(diskStats.Used) / 1024 / 1024,
		"channels":         channelData,
		"net_bytes_sent":   int64(bytesSent),
		"net_bytes_recv":   int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsReader"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_reader"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsWriter"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_writer"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsReader"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_reader"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsWriter"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_writer"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("PagesRead"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["pages_read"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("FilesWritten"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["files_written"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("EmptyDays"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["empty_days"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("SkippedExisting"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["skipped_existing"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("RateLimitHits"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["rate_limit_hits"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("S3Mirrors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["s3_mirrors"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
