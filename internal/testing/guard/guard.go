package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("SCOT_TEST_MODE") == "" {
			_ = os.Setenv("SCOT_TEST_MODE", "1")
		}
	})
}
