package codec

import (
	"testing"

	"github.com/kanreisa/jsonrpc2-ws"
)

func TestDecodeSingle(t *testing.T) {
	t.Parallel()

	items, batch, err := Decode([]byte(`{"jsonrpc":"2.0","method":"add","id":1}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if batch {
		t.Error("expected non-batch")
	}
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	if m, ok := items[0].MethodString(); !ok || m != "add" {
		t.Errorf("method = %q, %v, want add, true", m, ok)
	}
}

func TestDecodeBatch(t *testing.T) {
	t.Parallel()

	items, batch, err := Decode([]byte(`[{"jsonrpc":"2.0","method":"a","id":1},{"jsonrpc":"2.0","method":"b"}]`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !batch {
		t.Error("expected batch")
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
}

func TestDecodeEmptyBatch(t *testing.T) {
	t.Parallel()

	_, batch, err := Decode([]byte(`[]`))
	if err != ErrEmptyBatch {
		t.Errorf("err = %v, want ErrEmptyBatch", err)
	}
	if !batch {
		t.Error("expected batch flag even on empty-batch error")
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{"garbage", "@@@@@"},
		{"empty", ""},
		{"truncated object", `{"jsonrpc":`},
		{"truncated array", `[{"a":1}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := Decode([]byte(tt.data))
			if err != ErrParse {
				t.Errorf("Decode(%q) err = %v, want ErrParse", tt.data, err)
			}
		})
	}
}

func TestDecodeNonObjectItem(t *testing.T) {
	t.Parallel()

	items, batch, err := Decode([]byte(`"just a string"`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if batch {
		t.Error("expected non-batch")
	}
	if len(items) != 1 || items[0] != nil {
		t.Fatalf("items = %#v, want [nil]", items)
	}
}

func TestDecodeBatchWithNonObjectItem(t *testing.T) {
	t.Parallel()

	items, batch, err := Decode([]byte(`[{"jsonrpc":"2.0","method":"a"}, 42]`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !batch {
		t.Error("expected batch")
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	if items[0] == nil {
		t.Error("items[0] should have decoded")
	}
	if items[1] != nil {
		t.Error("items[1] should be nil (non-object)")
	}
}

func TestEncodeOneRoundtrip(t *testing.T) {
	t.Parallel()

	resp := &jsonrpc2ws.SuccessResponse{
		JSONRPC: jsonrpc2ws.Version,
		Result:  []byte(`{"a":["the return value"]}`),
		ID:      jsonrpc2ws.EncodeID(1),
	}
	frame, err := EncodeOne(resp, false)
	if err != nil {
		t.Fatalf("EncodeOne() error = %v", err)
	}
	if frame.Binary {
		t.Error("expected text frame")
	}

	items, batch, err := Decode(frame.Data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if batch {
		t.Error("expected non-batch")
	}
	if !items[0].IsResponse() {
		t.Error("expected decoded item to classify as a response")
	}
}

func TestEncodeBatch(t *testing.T) {
	t.Parallel()

	n1 := &jsonrpc2ws.Notification{JSONRPC: jsonrpc2ws.Version, Method: "ping"}
	n2 := &jsonrpc2ws.Notification{JSONRPC: jsonrpc2ws.Version, Method: "pong"}
	frame, err := EncodeBatch([]any{n1, n2}, true)
	if err != nil {
		t.Fatalf("EncodeBatch() error = %v", err)
	}
	if !frame.Binary {
		t.Error("expected binary frame")
	}

	items, batch, err := Decode(frame.Data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !batch || len(items) != 2 {
		t.Fatalf("batch=%v items=%d, want true 2", batch, len(items))
	}
}

func BenchmarkDecodeSingle(b *testing.B) {
	data := []byte(`{"jsonrpc":"2.0","method":"add","params":{"a":1,"b":2},"id":1}`)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = Decode(data)
	}
}
