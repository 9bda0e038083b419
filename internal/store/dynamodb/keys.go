package dynamodb

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fieldsight-io/fieldsight/pkg/types"
)

// PK/SK prefix constants.
const (
	prefixRegistry = "REGISTRY#"
	prefixField    = "FIELD#"
	prefixSensor   = "SENSOR#"
	prefixTrigger  = "TRIGGER#"
	prefixBase     = "BASE#"
	prefixRun      = "RUN#"
	prefixKey      = "KEY#"

	skDoc    = "DOC"
	skCursor = "CURSOR"
	skState  = "STATE"

	pkBBox = "BBOX"
)

func registryPK() string            { return prefixRegistry + "FIELDS" }
func registrySK(id string) string   { return prefixField + id }
func fieldPK(id string) string      { return prefixField + id }
func sensorPK(name string) string   { return prefixSensor + name }
func basePK(asset string) string    { return prefixBase + asset }
func runPK(runID string) string     { return prefixRun + runID }
func runTruthSK(runID string) string { return prefixRun + runID }

// keyPK groups all run records of one (composite key, index kind).
func keyPK(key types.CompositeKey, kind types.IndexKind) string {
	return prefixKey + key.String() + "#" + string(kind)
}

func runListSK(startedAt time.Time, runID string) string {
	return prefixRun + startedAt.UTC().Format(time.RFC3339Nano) + "#" + runID
}

func triggerSK(ts time.Time) string {
	millis := ts.UnixMilli()
	nonce := make([]byte, 4)
	_, _ = rand.Read(nonce)
	return fmt.Sprintf("%s%013d#%s", prefixTrigger, millis, hex.EncodeToString(nonce))
}
