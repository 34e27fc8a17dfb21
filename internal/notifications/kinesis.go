package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"livecommerce/internal/config"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/aws/aws-sdk-go/service/kinesis/kinesisiface"
)

// KinesisSink mirrors lifecycle events into a Kinesis stream, partitioned by
// broadcast so each broadcast's events stay ordered.
type KinesisSink struct {
	client     kinesisiface.KinesisAPI
	streamName string
}

// NewKinesisSink opens a session from the provider environment.
func NewKinesisSink(env *config.ProviderEnv) (*KinesisSink, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(env.AWSRegion),
	})
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return NewKinesisSinkWithClient(kinesis.New(sess), env.KinesisStream), nil
}

// NewKinesisSinkWithClient builds a sink on an existing client.
func NewKinesisSinkWithClient(client kinesisiface.KinesisAPI, streamName string) *KinesisSink {
	return &KinesisSink{client: client, streamName: streamName}
}

// Put writes one event record.
func (k *KinesisSink) Put(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = k.client.PutRecordWithContext(ctx, &kinesis.PutRecordInput{
		Data:         data,
		PartitionKey: aws.String(strconv.FormatUint(uint64(ev.BroadcastID), 10)),
		StreamName:   aws.String(k.streamName),
	})
	if err != nil {
		return fmt.Errorf("failed to put record to Kinesis: %w", err)
	}
	return nil
}
