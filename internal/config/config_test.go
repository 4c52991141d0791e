package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/masa-finance/lead-worker/internal/config"
)

var _ = Describe("Config", func() {
	Context("ReadConfig", func() {
		var dataDir string

		BeforeEach(func() {
			dataDir = GinkgoT().TempDir()
			GinkgoT().Setenv("DATA_DIR", dataDir)
			GinkgoT().Setenv("LEAD_WORKER_SIMULATION", "true")
		})

		It("reads the .env file from the data dir", func() {
			env := "APIFY_API_KEY=abc\nPROXIES=http://a:1, http://b:2\nINSTAGRAM_ACCOUNTS=u1:p1,u2:p2\nAPIFY_RATE_LIMIT=7\n"
			Expect(os.WriteFile(filepath.Join(dataDir, ".env"), []byte(env), 0644)).To(Succeed())
			// godotenv does not override variables that are already set
			for _, k := range []string{"APIFY_API_KEY", "PROXIES", "INSTAGRAM_ACCOUNTS", "APIFY_RATE_LIMIT"} {
				GinkgoT().Setenv(k, "")
				Expect(os.Unsetenv(k)).To(Succeed())
			}

			jc := config.ReadConfig()

			Expect(jc.DataDir()).To(Equal(dataDir))
			Expect(jc.GetApifyConfig().ApiKey).To(Equal("abc"))
			Expect(jc.GetProxyConfig().Proxies).To(Equal([]string{"http://a:1", "http://b:2"}))
			Expect(jc.GetSessionConfig().Accounts).To(HaveLen(2))
			Expect(jc.GetRateLimitConfig().Limits["managed"]).To(Equal(7))
		})

		It("falls back to defaults in simulation mode", func() {
			GinkgoT().Setenv("RATE_LIMIT_WINDOW_SECONDS", "")
			GinkgoT().Setenv("STORE_BACKEND", "")

			jc := config.ReadConfig()

			Expect(jc.ListenAddress()).To(Equal(":8080"))
			Expect(jc.GetRateLimitConfig().Window).To(Equal(time.Minute))
			Expect(jc.GetStoreConfig().Backend).To(Equal("memory"))
			Expect(jc.GetBrowserConfig().MaxAttempts).To(Equal(3))
		})
	})

	Context("getters", func() {
		It("converts numeric values and falls back on bad types", func() {
			jc := config.JobConfiguration{"a": 3, "b": float64(4), "c": "x", "d": uint(5)}
			Expect(jc.GetInt("a", 0)).To(Equal(3))
			Expect(jc.GetInt("b", 0)).To(Equal(4))
			Expect(jc.GetInt("c", 9)).To(Equal(9))
			Expect(jc.GetInt("d", 0)).To(Equal(5))
			Expect(jc.GetInt("missing", 1)).To(Equal(1))
			Expect(jc.GetFloat("a", 0)).To(Equal(3.0))
		})

		It("returns default durations", func() {
			jc := config.JobConfiguration{"t": 2 * time.Second}
			Expect(jc.GetDuration("t", 10)).To(Equal(2 * time.Second))
			Expect(jc.GetDuration("missing", 10)).To(Equal(10 * time.Second))
		})
	})

	It("parses log levels", func() {
		Expect(config.ParseLogLevel("debug")).To(Equal(logrus.DebugLevel))
		Expect(config.ParseLogLevel("WARN")).To(Equal(logrus.WarnLevel))
		Expect(config.ParseLogLevel("bogus")).To(Equal(logrus.InfoLevel))
	})
})
