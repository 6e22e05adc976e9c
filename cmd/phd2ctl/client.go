package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int         `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     int             `json:"id"`
}

// call opens a fresh connection to addr, issues one JSON-RPC request and
// returns its raw result, matching phd2d's newline-delimited wire format.
func call(addr, method string, params interface{}) (json.RawMessage, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer conn.Close()

	req := rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		// The server pushes an unsolicited Version event as soon as the
		// connection is accepted, and may interleave other events on the
		// same line stream; skip anything that isn't our response.
		var probe struct {
			Event string `json:"Event"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &probe); err == nil && probe.Event != "" {
			continue
		}

		var resp rpcResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			return nil, fmt.Errorf("malformed response: %w", err)
		}
		if resp.ID != req.ID {
			continue
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("connection closed before a response arrived")
}
