// Package guard puts a test binary into test mode when imported for side
// effects, so the service mains return before dialing PostgreSQL or Redis.
package guard

import (
	"os"
	"sync"

	"github.com/odyssey-erp/odyssey-authz/internal/app"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(app.TestModeEnv) == "" {
			_ = os.Setenv(app.TestModeEnv, "1")
		}
		if os.Getenv("STORE_DRIVER") == "" {
			_ = os.Setenv("STORE_DRIVER", app.StoreMemory)
		}
		if os.Getenv("AUTHZ_AUDIT_MODE") == "" {
			_ = os.Setenv("AUTHZ_AUDIT_MODE", app.AuditLog)
		}
		app.RefreshTestMode()
	})
}
