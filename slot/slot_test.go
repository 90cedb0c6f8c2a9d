package slot_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AlephTX/shmrecord/schema"
	"github.com/AlephTX/shmrecord/slot"
)

func newTestProtocol(t *testing.T) (*slot.Protocol, []byte) {
	t.Helper()
	layout, err := schema.Compile([]schema.Field{
		schema.Scalar("price", schema.ScalarF64),
		schema.Scalar("count", schema.ScalarI32),
		schema.String("label", 8),
	})
	require.NoError(t, err)

	p := slot.New(layout)
	buf := make([]byte, layout.SlotSize)
	p.Init(buf)
	return p, buf
}

func TestInit_AllFieldsUnwritten(t *testing.T) {
	p, buf := newTestProtocol(t)

	fields, torn, err := p.Read(buf, false)
	require.NoError(t, err)
	require.False(t, torn)

	for name, v := range fields {
		require.Truef(t, v.Unwritten(), "field %q should start unwritten", name)
		require.False(t, v.Valid())
	}
}

func TestWrite_ThenRead_RoundTrips(t *testing.T) {
	p, buf := newTestProtocol(t)

	err := p.Write(buf, map[string]any{
		"price": 101.5,
		"count": int32(7),
		"label": "abc",
	})
	require.NoError(t, err)

	fields, torn, err := p.Read(buf, false)
	require.NoError(t, err)
	require.False(t, torn)

	price, ok := fields["price"].Float64()
	require.True(t, ok)
	require.Equal(t, 101.5, price)
	require.True(t, fields["price"].Valid())
	require.True(t, fields["price"].Modified())

	count, ok := fields["count"].Int32()
	require.True(t, ok)
	require.Equal(t, int32(7), count)

	label, ok := fields["label"].StringValue()
	require.True(t, ok)
	require.Equal(t, "abc", label)
}

func TestWrite_OmittedFieldKeepsValueButClearsModified(t *testing.T) {
	p, buf := newTestProtocol(t)

	require.NoError(t, p.Write(buf, map[string]any{"price": 1.0, "count": int32(1), "label": "x"}))
	require.NoError(t, p.Write(buf, map[string]any{"count": int32(2)}))

	fields, torn, err := p.Read(buf, false)
	require.NoError(t, err)
	require.False(t, torn)

	price, _ := fields["price"].Float64()
	require.Equal(t, 1.0, price)
	require.False(t, fields["price"].Modified())

	count, _ := fields["count"].Int32()
	require.Equal(t, int32(2), count)
	require.True(t, fields["count"].Modified())
}

func TestWrite_RejectsUncoercibleValue_NoPartialPublish(t *testing.T) {
	p, buf := newTestProtocol(t)

	require.NoError(t, p.Write(buf, map[string]any{"price": 5.0, "count": int32(5), "label": "ok"}))

	err := p.Write(buf, map[string]any{"price": "not a number", "count": int32(99)})
	require.Error(t, err)

	fields, torn, err := p.Read(buf, false)
	require.NoError(t, err)
	require.False(t, torn)

	price, _ := fields["price"].Float64()
	require.Equal(t, 5.0, price, "failed write must not have touched price")
	count, _ := fields["count"].Int32()
	require.Equal(t, int32(5), count, "failed write must not have touched any field, including count")
}

func TestRead_ResetModified_ClearsBitsAfterConsistentRead(t *testing.T) {
	p, buf := newTestProtocol(t)
	require.NoError(t, p.Write(buf, map[string]any{"price": 1.0, "count": int32(1), "label": "x"}))

	fields, torn, err := p.Read(buf, true)
	require.NoError(t, err)
	require.False(t, torn)
	require.True(t, fields["price"].Modified())

	fields, torn, err = p.Read(buf, false)
	require.NoError(t, err)
	require.False(t, torn)
	require.False(t, fields["price"].Modified())
}

func TestEncodeString_TruncationSetsTruncatedStatus(t *testing.T) {
	p, buf := newTestProtocol(t)
	require.NoError(t, p.Write(buf, map[string]any{"label": "way too long for eight chars"}))

	fields, torn, err := p.Read(buf, false)
	require.NoError(t, err)
	require.False(t, torn)
	require.True(t, fields["label"].Truncated())
	require.False(t, fields["label"].Valid())
}

// TestConcurrentWriteRead_NeverObservesATornRecord drives one writer
// goroutine against many reader goroutines on a shared slot buffer and
// asserts every successful (non-torn) read sees a value pair that was
// actually written together, never a half-applied update. Modeled on the
// seqlock concurrency tests of calvinalkan-agent-task/pkg/slotcache.
func TestConcurrentWriteRead_NeverObservesATornRecord(t *testing.T) {
	p, buf := newTestProtocol(t)

	const iterations = 2000
	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(stop)
		for i := int32(0); i < iterations; i++ {
			err := p.Write(buf, map[string]any{"price": float64(i), "count": i})
			require.NoError(t, err)
		}
	}()

	readerErrs := make(chan error, 4)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				fields, torn, err := p.Read(buf, false)
				if err != nil {
					readerErrs <- err
					return
				}
				if torn {
					continue
				}
				price, _ := fields["price"].Float64()
				count, _ := fields["count"].Int32()
				if price != float64(count) {
					readerErrs <- fmt.Errorf("torn pair observed: price=%v count=%v", price, count)
					return
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("concurrency test did not finish in time")
	}
	close(readerErrs)
	for err := range readerErrs {
		require.NoError(t, err, "reader observed a torn pair of fields written in different Write calls")
	}
}
