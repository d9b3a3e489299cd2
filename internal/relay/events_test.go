package relay

import (
	"context"
	"testing"
	"time"
)

func TestBusDispatch(t *testing.T) {
	b, err := NewBus(7)
	if err != nil {
		t.Fatal(err)
	}
	locs := &locationRecorder{}
	pub := &publishRecorder{}
	cache := &mapCache{m: map[string][]byte{}}
	b.RegisterHandler("store", storeHandler(locs))
	b.RegisterHandler("publish", publishHandler(pub, "fixes", nil))
	b.RegisterHandler("cache", cacheHandler(cache, nil))

	ev := &LocationEvent{OrderID: "o1", RiderID: "r1", Latitude: 1, Longitude: 2, At: time.Now(), Frame: []byte(`{}`)}
	if err := b.Emit(context.Background(), TopicLocation, ev); err != nil {
		t.Fatal(err)
	}
	if err := b.Emit(context.Background(), TopicSessionOpened, &SessionEvent{OrderID: "o1", ConnID: "c", Actor: "customer"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "handlers", func() bool {
		d, _ := cache.Frame(context.Background(), "o1")
		return locs.Len() == 1 && pub.first() == "fixes.o1" && d != nil
	})
}
