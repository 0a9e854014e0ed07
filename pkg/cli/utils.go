package cli

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/mitchellh/go-homedir"

	"github.com/sfpwatch/sfpwatch/pkg/config"
	"github.com/sfpwatch/sfpwatch/pkg/protocol"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func getSocketPath() (string, error) {
	if socketPath != "" {
		expanded, err := homedir.Expand(socketPath)
		if err != nil {
			return "", fmt.Errorf("failed to expand socket path: %w", err)
		}
		return expanded, nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Address, nil
}

func sendRequest(req *protocol.Request) (*protocol.Response, error) {
	sockPath, err := getSocketPath()
	if err != nil {
		return nil, err
	}

	network := "unix"
	if strings.Contains(sockPath, ":") {
		network = "tcp"
	}

	conn, err := net.Dial(network, sockPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	reqData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if verbose {
		fmt.Printf("Sending request: %s\n", string(reqData))
	}

	reqData = append(reqData, '\n')

	if _, err := conn.Write(reqData); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	decoder := json.NewDecoder(conn)
	var resp protocol.Response
	if err := decoder.Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if verbose {
		respData, _ := json.Marshal(resp)
		fmt.Printf("Received response: %s\n", string(respData))
	}

	return &resp, nil
}

// query sends one command and decodes the reply into out.
func query(typ protocol.CommandType, payload, out interface{}) error {
	req, err := protocol.NewRequest(uuid.New().String(), typ, payload)
	if err != nil {
		return err
	}

	resp, err := sendRequest(req)
	if err != nil {
		return err
	}

	if err := resp.Decode(out); err != nil {
		return fmt.Errorf("%s failed: %w", typ, err)
	}
	return nil
}
