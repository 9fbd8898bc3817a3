package record

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func sample(id string, rtts ...float64) BurstRecord {
	return BurstRecord{
		TsUnixMs:   NowUnixMs(),
		EndpointID: id,
		Host:       "127.0.0.1",
		Port:       9000,
		SamplesMs:  rtts,
		Iface:      IfaceLoopback,
		Notes:      []string{},
	}
}

func TestSink_AppendAndRead(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "log.jsonl")
	sink, err := NewSink(path)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	if err := sink.Append(sample("a", 1.5, 2.5)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := sink.Append(sample("b")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	recs, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records=%d", len(recs))
	}
	if recs[0].EndpointID != "a" || len(recs[0].SamplesMs) != 2 {
		t.Fatalf("rec=%+v", recs[0])
	}
	if len(recs[1].SamplesMs) != 0 {
		t.Fatalf("rec=%+v", recs[1])
	}
}

func TestSink_ConcurrentAppendsLineAtomic(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "log.jsonl")
	sink, err := NewSink(path)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}

	const writers = 8
	const perWriter = 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_ = sink.Append(sample("ep", float64(i)))
			}
		}(w)
	}
	wg.Wait()
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	recs, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(recs) != writers*perWriter {
		t.Fatalf("records=%d want %d", len(recs), writers*perWriter)
	}
}

func TestRead_SkipsMalformedLines(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		`{"tsUnixMs":1,"endpointId":"a","host":"h","port":9000,"samplesMs":[1.0],"iface":"other","notes":[]}`,
		`{"truncated...`,
		``,
		`{"tsUnixMs":2,"endpointId":"b","host":"h","port":9000,"samplesMs":[],"iface":"other","notes":[]}`,
	}, "\n")

	recs, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(recs) != 2 || recs[1].EndpointID != "b" {
		t.Fatalf("records=%+v", recs)
	}
}

func TestReadFile_Missing(t *testing.T) {
	t.Parallel()

	_, err := ReadFile(filepath.Join(t.TempDir(), "absent.jsonl"))
	if !os.IsNotExist(err) {
		t.Fatalf("err=%v", err)
	}
}
