package stats

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// These are the types of statistics that we can add. The value is the JSON key that will be used for serialization.
type StatType string

const (
	Queries           StatType = "queries"
	ReturnedUsernames StatType = "returned_usernames"
	ReturnedProfiles  StatType = "returned_profiles"
	Errors            StatType = "errors"
	AuthErrors        StatType = "auth_errors"
	RateErrors        StatType = "ratelimit_errors"
	SoftBlocks        StatType = "soft_blocks"
	ProxyLeases       StatType = "proxy_leases"
	SessionRefreshes  StatType = "session_refreshes"
	LeadsInserted     StatType = "leads_inserted"
	LeadsDuplicate    StatType = "leads_duplicate"
	Runs              StatType = "runs"
)

// AddStat is the struct used in the rest of the worker for sending statistics
type AddStat struct {
	Type     StatType
	Strategy string
	Num      uint
}

// Stats is the structure we use to store the statistics
type Stats struct {
	BootTimeUnix      int64                        `json:"boot_time"`
	LastOperationUnix int64                        `json:"last_operation_time"`
	CurrentTimeUnix   int64                        `json:"current_time"`
	WorkerID          string                       `json:"worker_id"`
	Stats             map[string]map[StatType]uint `json:"stats"`
	sync.Mutex
}

// StatsCollector is the object used to collect statistics
type StatsCollector struct {
	Stats *Stats
	Chan  chan AddStat
}

// StartCollector starts a goroutine that listens to a channel for AddStat messages and updates the stats accordingly.
func StartCollector(bufSize uint) *StatsCollector {
	logrus.Info("Starting stats collector")

	s := Stats{
		BootTimeUnix: time.Now().Unix(),
		Stats:        make(map[string]map[StatType]uint),
	}

	ch := make(chan AddStat, bufSize)

	go func(s *Stats, ch chan AddStat) {
		for stat := range ch {
			s.Lock()
			s.LastOperationUnix = time.Now().Unix()
			if _, ok := s.Stats[stat.Strategy]; !ok {
				s.Stats[stat.Strategy] = make(map[StatType]uint)
			}
			s.Stats[stat.Strategy][stat.Type] += stat.Num
			s.Unlock()
			logrus.Debugf("Added %d to stat %s/%s", stat.Num, stat.Strategy, stat.Type)
		}
	}(&s, ch)

	return &StatsCollector{Stats: &s, Chan: ch}
}

// Json returns the current statistics as a JSON byte array
func (s *StatsCollector) Json() ([]byte, error) {
	s.Stats.Lock()
	defer s.Stats.Unlock()
	s.Stats.CurrentTimeUnix = time.Now().Unix()
	return json.Marshal(s.Stats)
}

// Get returns the current value of a single counter.
func (s *StatsCollector) Get(strategy string, typ StatType) uint {
	s.Stats.Lock()
	defer s.Stats.Unlock()
	return s.Stats.Stats[strategy][typ]
}

// Add is a convenience method to add a number to a statistic. It is a no-op
// on a nil collector so components can run without telemetry.
func (s *StatsCollector) Add(strategy string, typ StatType, num uint) {
	if s == nil || num == 0 {
		return
	}
	s.Chan <- AddStat{Strategy: strategy, Type: typ, Num: num}
}

// SetWorkerID sets the worker ID for the stats collector
func (s *StatsCollector) SetWorkerID(workerID string) {
	s.Stats.Lock()
	defer s.Stats.Unlock()
	s.Stats.WorkerID = workerID
}
