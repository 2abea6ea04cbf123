package classifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type staticModel struct{}

func (staticModel) Classify(ctx context.Context, img Image) ([]Prediction, error) {
	return nil, nil
}

type closableModel struct {
	staticModel
	closed int32
}

func (m *closableModel) Close() error {
	atomic.AddInt32(&m.closed, 1)
	return nil
}

func TestFormatUsesTwoDecimals(t *testing.T) {
	got := Format(Prediction{Label: "golden retriever", Probability: 0.87341})
	if got != "golden retriever: 87.34%" {
		t.Fatalf("unexpected format: %q", got)
	}
}

func TestTopKRanksDescending(t *testing.T) {
	in := []Prediction{{"a", 0.1}, {"b", 0.7}, {"c", 0.2}}
	got := TopK(in, 2)
	if len(got) != 2 || got[0].Label != "b" || got[1].Label != "c" {
		t.Fatalf("unexpected ranking: %+v", got)
	}
	if in[0].Label != "a" {
		t.Fatal("input slice must not be reordered")
	}
	if all := TopK(in, 0); len(all) != 3 {
		t.Fatalf("expected all predictions, got %d", len(all))
	}
}

func TestSharedLoaderMemoizesSuccess(t *testing.T) {
	var calls int32
	loader := LoaderFunc(func(ctx context.Context) (Model, error) {
		atomic.AddInt32(&calls, 1)
		return staticModel{}, nil
	})
	shared := NewSharedLoader(loader, 0, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := shared.Load(context.Background()); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if _, err := shared.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected one underlying load, got %d", n)
	}
}

func TestSharedLoaderRetriesAfterFailure(t *testing.T) {
	attempts := 0
	loader := LoaderFunc(func(ctx context.Context) (Model, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("unavailable")
		}
		return staticModel{}, nil
	})
	shared := NewSharedLoader(loader, 0, zap.NewNop())

	if _, err := shared.Load(context.Background()); err == nil {
		t.Fatal("expected first load to fail")
	}
	if _, err := shared.Load(context.Background()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestSharedLoaderSurvivesCallerCancellation(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	loader := LoaderFunc(func(ctx context.Context) (Model, error) {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return staticModel{}, nil
	})
	shared := NewSharedLoader(loader, time.Second, zap.NewNop())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := shared.Load(firstCtx)
		firstErr <- err
	}()
	<-started

	secondErr := make(chan error, 1)
	go func() {
		_, err := shared.Load(context.Background())
		secondErr <- err
	}()

	cancelFirst()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected first caller to see its cancellation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("first caller did not return after cancellation")
	}

	close(release)
	select {
	case err := <-secondErr:
		if err != nil {
			t.Fatalf("expected second caller to get the model, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("second caller did not return")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected one underlying load, got %d", n)
	}
}

func TestSharedLoaderAppliesItsOwnTimeout(t *testing.T) {
	loader := LoaderFunc(func(ctx context.Context) (Model, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	shared := NewSharedLoader(loader, 20*time.Millisecond, zap.NewNop())

	_, err := shared.Load(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSharedLoaderCloseReleasesModel(t *testing.T) {
	var calls int32
	models := []*closableModel{}
	var mu sync.Mutex
	loader := LoaderFunc(func(ctx context.Context) (Model, error) {
		atomic.AddInt32(&calls, 1)
		m := &closableModel{}
		mu.Lock()
		models = append(models, m)
		mu.Unlock()
		return m, nil
	})
	shared := NewSharedLoader(loader, 0, zap.NewNop())

	if err := shared.Close(); err != nil {
		t.Fatalf("close before load: %v", err)
	}
	if _, err := shared.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shared.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if n := atomic.LoadInt32(&models[0].closed); n != 1 {
		t.Fatalf("expected model closed once, got %d", n)
	}

	if _, err := shared.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected a fresh load after close, got %d loads", n)
	}
}
