// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/cardinalhq/eventrunner/config"
)

const captureKey = "captures/BOS/2024/2024_06_13_13_35_17/Pitching/2024_06_13_14_02_11_BOS_Sale_Chris/cam03/cam03.mp4"

func TestParseKeysS3(t *testing.T) {
	raw := `{"Records":[
		{"eventName":"ObjectCreated:Put","s3":{"object":{"key":"captures/BOS/2024/s1/Pitching/t1_BOS_Sale+Chris/cam03/cam03.mp4"}}},
		{"eventName":"ObjectRemoved:Delete","s3":{"object":{"key":"gone.mp4"}}}
	]}`
	keys, err := ParseKeys([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, []string{"captures/BOS/2024/s1/Pitching/t1_BOS_Sale Chris/cam03/cam03.mp4"}, keys)
}

func TestParseKeysSNSEnvelope(t *testing.T) {
	inner := `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"object":{"key":"a/b.mp4"}}}]}`
	env, err := json.Marshal(map[string]string{"Type": "Notification", "Message": inner})
	require.NoError(t, err)

	keys, err := ParseKeys(env)
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b.mp4"}, keys)
}

func TestParseKeysS3TestEvent(t *testing.T) {
	keys, err := ParseKeys([]byte(`{"Service":"Amazon S3","Event":"s3:TestEvent"}`))
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestParseKeysGCS(t *testing.T) {
	keys, err := ParseKeys([]byte(`{"kind":"storage#object","id":"kt-raw/a/b.mp4/1","name":"a/b.mp4"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b.mp4"}, keys)

	_, err = ParseKeys([]byte(`{"kind":"storage#object"}`))
	assert.Error(t, err)
}

func TestParseKeysEventGrid(t *testing.T) {
	raw := `[
		{"eventType":"Microsoft.Storage.BlobCreated","subject":"/blobServices/default/containers/raw/blobs/a/b.mp4"},
		{"eventType":"Microsoft.Storage.BlobDeleted","subject":"/blobServices/default/containers/raw/blobs/c.mp4"},
		{"eventType":"Microsoft.Storage.BlobCreated","subject":"/nonsense"}
	]`
	keys, err := ParseKeys([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b.mp4"}, keys)
}

func TestParseKeysUnknown(t *testing.T) {
	_, err := ParseKeys([]byte(`{"hello":"world"}`))
	assert.ErrorIs(t, err, ErrUnknownFormat)
	_, err = ParseKeys(nil)
	assert.ErrorIs(t, err, ErrUnknownFormat)
	_, err = ParseKeys([]byte(`not json`))
	assert.Error(t, err)
}

func TestDecodeIfBase64(t *testing.T) {
	plain := `{"kind":"storage#object"}`
	assert.Equal(t, []byte(plain), decodeIfBase64(plain))
	enc := base64.StdEncoding.EncodeToString([]byte(plain))
	assert.Equal(t, []byte(plain), decodeIfBase64(enc))
	assert.Equal(t, []byte("abc"), decodeIfBase64("abc"))
}

func TestRelevant(t *testing.T) {
	tests := []struct {
		name string
		base string
		keys []string
		want bool
	}{
		{"capture under base", "captures", []string{captureKey}, true},
		{"outside base", "other", []string{captureKey}, false},
		{"no base", "", []string{"BOS/2024/s1/Batting/t1_BOS_Judge/cam1/cam1.mp4"}, true},
		{"directory marker", "captures", []string{"captures/BOS/2024/s1/Batting/t1_BOS_Judge/"}, false},
		{"unrelated object", "", []string{"logs/today.txt"}, false},
		{"any match wins", "", []string{"x.txt", "BOS/2024/s1/Batting/t1_BOS_Judge/cam1/cam1.mp4"}, true},
		{"empty", "", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Relevant(tt.base, tt.keys))
		})
	}
}

func TestHandlerWakesOnCapture(t *testing.T) {
	var wakes atomic.Int32
	h := newHandler("test", "captures", func() { wakes.Add(1) })

	gcs := `{"kind":"storage#object","name":"` + captureKey + `"}`
	assert.True(t, h.handle(context.Background(), []byte(gcs)))
	assert.False(t, h.handle(context.Background(), []byte(`{"kind":"storage#object","name":"captures/readme.txt"}`)))
	assert.False(t, h.handle(context.Background(), []byte(`garbage`)))
	assert.Equal(t, int32(1), wakes.Load())
}

type fakeSQS struct {
	mu       sync.Mutex
	batches  [][]types.Message
	deleted  []string
	received chan struct{}
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	if len(f.batches) > 0 {
		batch := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return &sqs.ReceiveMessageOutput{Messages: batch}, nil
	}
	f.mu.Unlock()
	select {
	case f.received <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSListenerWakesAndDeletesAll(t *testing.T) {
	body := `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"object":{"key":"` + captureKey + `"}}}]}`
	fake := &fakeSQS{
		received: make(chan struct{}, 1),
		batches: [][]types.Message{{
			{MessageId: aws.String("m1"), ReceiptHandle: aws.String("r1"), Body: aws.String(body)},
			{MessageId: aws.String("m2"), ReceiptHandle: aws.String("r2"), Body: aws.String(body)},
			{MessageId: aws.String("m3"), ReceiptHandle: aws.String("r3"), Body: aws.String(`junk`)},
		}},
	}

	var wakes atomic.Int32
	l := NewSQSListener(fake, noop.NewTracerProvider().Tracer("test"), "https://sqs/q", "captures", func() { wakes.Add(1) })
	assert.Equal(t, "sqs", l.Name())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	select {
	case <-fake.received:
	case <-time.After(5 * time.Second):
		t.Fatal("listener never drained the batch")
	}
	cancel()
	require.NoError(t, <-done)

	// One wake per batch is enough to trigger a poll.
	assert.Equal(t, int32(1), wakes.Load())
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []string{"r1", "r2", "r3"}, fake.deleted)
}

func TestNewDisabled(t *testing.T) {
	l, err := New(context.Background(), config.NotificationsConfig{}, "", nil)
	require.NoError(t, err)
	assert.Nil(t, l)

	_, err = New(context.Background(), config.NotificationsConfig{Backend: "kafka"}, "", nil)
	assert.Error(t, err)
}
