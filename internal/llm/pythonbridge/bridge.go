package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"OpenBoBS/internal/llm"
)

const providerName = "python_bridge"

// Client 通过调用 Python 脚本完成生成。脚本从 stdin 读取
// `{model,messages}`，向 stdout 写出 `{ok,reply|error}`。
type Client struct {
	pythonExec string
	scriptPath string
	workingDir string
}

// NewClient 创建 Python Bridge 客户端。
func NewClient(pythonExec, scriptPath, workingDir string) (*Client, error) {
	if scriptPath == "" {
		return nil, fmt.Errorf("未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Client{
		pythonExec: pythonExec,
		scriptPath: ResolveScriptPath(workingDir, scriptPath),
		workingDir: workingDir,
	}, nil
}

// Chat 调用外部脚本，并解析输出。
func (c *Client) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	encoded, err := json.Marshal(req)
	if err != nil {
		return nil, llm.Failure(providerName, err, "序列化请求失败")
	}

	command := exec.CommandContext(ctx, c.pythonExec, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, llm.Failure(providerName,
			fmt.Errorf("%w, stderr=%s", err, strings.TrimSpace(stderr.String())), "执行 Python 脚本失败")
	}

	var resp struct {
		OK    *bool  `json:"ok"`
		Reply string `json:"reply"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, llm.Failure(providerName, err, "解析 Python 输出失败")
	}
	if resp.OK != nil && !*resp.OK {
		return nil, llm.Failure(providerName, errors.New(resp.Error), "Python 脚本返回失败")
	}
	return llm.Reply(providerName, resp.Reply)
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}
