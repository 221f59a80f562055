package telemetry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

const (
	logRetentionDays = 30
	putTimeout       = 5 * time.Second
)

// LogsAPI is the part of the CloudWatch Logs client the writer uses.
type LogsAPI interface {
	CreateLogGroup(ctx context.Context, in *cloudwatchlogs.CreateLogGroupInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
	PutRetentionPolicy(ctx context.Context, in *cloudwatchlogs.PutRetentionPolicyInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutRetentionPolicyOutput, error)
	CreateLogStream(ctx context.Context, in *cloudwatchlogs.CreateLogStreamInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEvents(ctx context.Context, in *cloudwatchlogs.PutLogEventsInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// LogWriter is an io.Writer that sends every write as one log event. Send
// failures are reported on stderr and never fail the write, so a CloudWatch
// outage cannot break logging.
type LogWriter struct {
	client LogsAPI
	group  string
	stream string
	errOut io.Writer

	mu            sync.Mutex
	sequenceToken *string
}

// NewCloudWatchLogWriter creates the log group and a fresh stream and
// returns a writer for it.
func NewCloudWatchLogWriter(ctx context.Context, cfg aws.Config, group, stream string) (*LogWriter, error) {
	return NewLogWriter(ctx, cloudwatchlogs.NewFromConfig(cfg), group, stream)
}

func NewLogWriter(ctx context.Context, client LogsAPI, group, stream string) (*LogWriter, error) {
	w := &LogWriter{client: client, group: group, stream: stream, errOut: os.Stderr}
	if err := w.ensureLogGroup(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure log group %s: %w", group, err)
	}
	_, err := client.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(group),
		LogStreamName: aws.String(stream),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create log stream %s: %w", stream, err)
	}
	return w, nil
}

func (w *LogWriter) ensureLogGroup(ctx context.Context) error {
	_, err := w.client.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(w.group),
	})
	var exists *types.ResourceAlreadyExistsException
	if err != nil && !errors.As(err, &exists) {
		return err
	}
	_, err = w.client.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
		LogGroupName:    aws.String(w.group),
		RetentionInDays: aws.Int32(logRetentionDays),
	})
	if err != nil {
		return fmt.Errorf("failed to set retention policy: %w", err)
	}
	return nil
}

func (w *LogWriter) Write(p []byte) (int, error) {
	msg := string(bytes.TrimRight(p, "\n"))
	if msg == "" {
		return len(p), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), putTimeout)
	defer cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	out, err := w.client.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(w.group),
		LogStreamName: aws.String(w.stream),
		SequenceToken: w.sequenceToken,
		LogEvents: []types.InputLogEvent{{
			Message:   aws.String(msg),
			Timestamp: aws.Int64(time.Now().UnixMilli()),
		}},
	})
	if err != nil {
		fmt.Fprintf(w.errOut, "CloudWatch write error: %v\n", err)
		return len(p), nil
	}
	w.sequenceToken = out.NextSequenceToken
	return len(p), nil
}

// StreamName names a log stream after the process, e.g.
// "storefront-serve-1760860800".
func StreamName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().Unix())
}
