package alert_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/masa-finance/lead-worker/api/types"
	"github.com/masa-finance/lead-worker/internal/alert"
	"github.com/masa-finance/lead-worker/internal/config"
)

type recordingChannel struct {
	mu     sync.Mutex
	err    error
	events []types.AlertEvent
}

func (r *recordingChannel) Name() string { return "recording" }

func (r *recordingChannel) Send(_ context.Context, ev types.AlertEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

var _ = Describe("Dispatcher", func() {
	var (
		ch  *recordingChannel
		d   *alert.Dispatcher
		now time.Time
	)

	lowYield := func(niche string) types.AlertEvent {
		return types.AlertEvent{Niche: niche, Kind: types.AlertLowYield, ObservedValue: 0.1, Threshold: 0.5}
	}

	BeforeEach(func() {
		ch = &recordingChannel{}
		now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		d = alert.NewDispatcher(30*time.Minute, alert.LogChannel{}, ch)
		d.SetClock(func() time.Time { return now })
	})

	It("suppresses repeats inside the cooldown", func() {
		d.Alert(context.Background(), lowYield("fitness"))
		d.Alert(context.Background(), lowYield("fitness"))
		Expect(ch.events).To(HaveLen(1))

		now = now.Add(31 * time.Minute)
		d.Alert(context.Background(), lowYield("fitness"))
		Expect(ch.events).To(HaveLen(2))
	})

	It("tracks niche and kind separately", func() {
		d.Alert(context.Background(), lowYield("fitness"))
		d.Alert(context.Background(), lowYield("travel"))
		d.Alert(context.Background(), types.AlertEvent{Niche: "fitness", Kind: types.AlertHighErrorRate})
		Expect(ch.events).To(HaveLen(3))
	})

	It("keeps going when a channel fails", func() {
		failing := &recordingChannel{err: errors.New("boom")}
		d = alert.NewDispatcher(time.Minute, failing, ch)
		d.Alert(context.Background(), lowYield("fitness"))
		Expect(failing.events).To(HaveLen(1))
		Expect(ch.events).To(HaveLen(1))
	})

	It("posts events to the webhook", func() {
		received := make(chan types.AlertEvent, 1)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.Method).To(Equal(http.MethodPost))
			Expect(r.Header.Get("Content-Type")).To(Equal("application/json"))
			var ev types.AlertEvent
			Expect(json.NewDecoder(r.Body).Decode(&ev)).To(Succeed())
			received <- ev
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		d = alert.FromConfig(config.AlertConfig{WebhookURL: srv.URL, Cooldown: time.Minute})
		d.Alert(context.Background(), lowYield("fitness"))

		var ev types.AlertEvent
		Eventually(received).Should(Receive(&ev))
		Expect(ev.Niche).To(Equal("fitness"))
		Expect(ev.Kind).To(Equal(types.AlertLowYield))
	})

	It("reports webhook failures", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		err := alert.NewWebhookChannel(srv.URL).Send(context.Background(), lowYield("fitness"))
		Expect(err).To(MatchError(ContainSubstring("502")))
	})
})
