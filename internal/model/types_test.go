package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMenuItem_JSON(t *testing.T) {
	data := []byte(`{"_id":"a1","vendorId":"v1","name":"Masala Dosa","price":120.5,"isAvailable":true}`)

	var m MenuItem
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if m.ID != "a1" {
		t.Errorf("ID = %q, want %q", m.ID, "a1")
	}
	if m.VendorID != "v1" {
		t.Errorf("VendorID = %q, want %q", m.VendorID, "v1")
	}
	if m.Price != 120.5 {
		t.Errorf("Price = %v, want %v", m.Price, 120.5)
	}
	if !m.IsAvailable {
		t.Error("IsAvailable should be true")
	}
	if m.RecordID() != "a1" {
		t.Errorf("RecordID() = %q, want %q", m.RecordID(), "a1")
	}
}

func TestOrder_Validate(t *testing.T) {
	tests := []struct {
		name    string
		order   Order
		wantErr bool
	}{
		{"valid", Order{ID: "o1", VendorID: "v1", Status: StatusPending}, false},
		{"missing id", Order{VendorID: "v1", Status: StatusPending}, true},
		{"missing vendor", Order{ID: "o1", Status: StatusPending}, true},
		{"unknown status", Order{ID: "o1", VendorID: "v1", Status: "teleported"}, true},
		{"empty status", Order{ID: "o1", VendorID: "v1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.order.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	if !IsTerminal(StatusDelivered) || !IsTerminal(StatusCancelled) {
		t.Error("delivered and cancelled should be terminal")
	}
	if IsTerminal(StatusOutForDelivery) {
		t.Error("out_for_delivery should not be terminal")
	}
}

func TestLocationUpdate_Validate(t *testing.T) {
	ok := LocationUpdate{Lat: 12.97, Lng: 77.59, At: time.Now()}
	if err := ok.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}

	bad := []LocationUpdate{
		{Lat: 91, Lng: 0},
		{Lat: -91, Lng: 0},
		{Lat: 0, Lng: 181},
		{Lat: 0, Lng: -181},
	}
	for _, l := range bad {
		if err := l.Validate(); err == nil {
			t.Errorf("Validate(%v, %v) = nil, want error", l.Lat, l.Lng)
		}
	}
}

func TestIsKnownEvent(t *testing.T) {
	for _, e := range KnownEvents {
		if !IsKnownEvent(e) {
			t.Errorf("IsKnownEvent(%q) = false", e)
		}
	}
	if IsKnownEvent("chatMessage") {
		t.Error("IsKnownEvent(chatMessage) = true, want false")
	}
}

func TestDecodeOrderEvent(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantID     string
		wantStatus string
		wantErr    bool
	}{
		{"wrapped", `{"order":{"_id":"o1","vendorId":"v1","status":"pending"}}`, "o1", "pending", false},
		{"wrapped with status override", `{"order":{"_id":"o1","status":"pending"},"status":"accepted"}`, "o1", "accepted", false},
		{"bare", `{"_id":"o2","vendorId":"v1","status":"ready"}`, "o2", "ready", false},
		{"missing id", `{"status":"ready"}`, "", "", true},
		{"not json", `nope`, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := DecodeOrderEvent([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if o.ID != tt.wantID || o.Status != tt.wantStatus {
				t.Errorf("got id=%q status=%q", o.ID, o.Status)
			}
		})
	}
}

func TestDeletionTarget(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{"bare id", `"a"`, "a", false},
		{"id field", `{"id":"a"}`, "a", false},
		{"itemId field", `{"itemId":"b"}`, "b", false},
		{"mongo id", `{"_id":"c"}`, "c", false},
		{"empty object", `{}`, "", false},
		{"number", `42`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Deletion
			err := json.Unmarshal([]byte(tt.payload), &d)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := d.Target(); got != tt.want {
				t.Errorf("Target() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAvailabilityChangeTarget(t *testing.T) {
	tests := []struct {
		payload string
		want    string
	}{
		{`{"id":"a","isAvailable":false}`, "a"},
		{`{"itemId":"b","isAvailable":false}`, "b"},
		{`{"_id":"c","isAvailable":false}`, "c"},
	}

	for _, tt := range tests {
		var a AvailabilityChange
		if err := json.Unmarshal([]byte(tt.payload), &a); err != nil {
			t.Fatalf("Unmarshal(%s) = %v", tt.payload, err)
		}
		if a.Target() != tt.want || a.IsAvailable {
			t.Errorf("Unmarshal(%s) = %+v, want target %q", tt.payload, a, tt.want)
		}
	}
}
