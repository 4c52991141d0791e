package instagram_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/masa-finance/lead-worker/api/types"
	"github.com/masa-finance/lead-worker/internal/config"
	. "github.com/masa-finance/lead-worker/internal/jobs/instagram"
)

var _ = Describe("ProfileFetcher", func() {
	var (
		server  *httptest.Server
		fetcher *ProfileFetcher
	)

	BeforeEach(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/jane.runs/", func(w http.ResponseWriter, r *http.Request) {
			if c, err := r.Cookie("sessionid"); err != nil || c.Value != "abc" {
				http.Redirect(w, r, "/accounts/login/?next=/jane.runs/", http.StatusFound)
				return
			}
			_, _ = w.Write([]byte(profileHTML))
		})
		mux.HandleFunc("/accounts/login/", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html><body><form>login</form></body></html>"))
		})
		mux.HandleFunc("/gone/", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("Sorry, this page isn't available."))
		})
		mux.HandleFunc("/busy/", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
		server = httptest.NewServer(mux)

		fetcher = NewProfileFetcher(config.BrowserConfig{UserAgent: "test-agent", NavigationTimeout: 5 * time.Second})
		fetcher.BaseURL = server.URL
	})

	AfterEach(func() {
		server.Close()
	})

	It("should fetch and parse a profile with session cookies", func() {
		cookies := []*http.Cookie{{Name: "sessionid", Value: "abc"}}
		c, err := fetcher.FetchProfile(context.Background(), "running", "jane.runs", "", cookies)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Identity).To(Equal("jane.runs"))
		Expect(c.FollowerCount).To(Equal(int64(12500)))
		Expect(c.Niche).To(Equal("running"))
		Expect(c.Source).To(Equal(types.StrategyBrowser))
		Expect(c.AcquiredAt).NotTo(BeZero())
	})

	It("should report the login wall without cookies", func() {
		_, err := fetcher.FetchProfile(context.Background(), "running", "jane.runs", "", nil)
		Expect(errors.Is(err, ErrLoginWall)).To(BeTrue())
	})

	It("should report missing profiles", func() {
		_, err := fetcher.FetchProfile(context.Background(), "running", "gone", "", nil)
		Expect(errors.Is(err, ErrPageUnavailable)).To(BeTrue())
	})

	It("should report throttling as a soft block", func() {
		_, err := fetcher.FetchProfile(context.Background(), "running", "busy", "", nil)
		Expect(errors.Is(err, ErrSoftBlocked)).To(BeTrue())
	})

	It("should not fetch with a finished context", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := fetcher.FetchProfile(ctx, "running", "jane.runs", "", nil)
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
	})
})
