package model

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestMigrationFlowJSONKeys(t *testing.T) {
	data, err := json.Marshal(MigrationFlow{OriginID: "a", DestinationID: "b", UnitID: "u", RawRate: 0.6, Probability: 0.3, Decided: 4, Migrants: 3})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got := string(data)
	for _, key := range []string{`"originId"`, `"destinationId"`, `"unitId"`, `"rawRate"`, `"probability"`, `"decided"`, `"migrants"`} {
		if !strings.Contains(got, key) {
			t.Fatalf("json = %s, want key %s", got, key)
		}
	}
	if strings.Contains(got, "_") {
		t.Fatalf("json = %s, want camelCase keys only", got)
	}
}
