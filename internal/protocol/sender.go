package protocol

import (
	"context"

	"github.com/mafredri/cdp/rpcc"
)

// Sender 发送协议命令的最小能力接口。Manager 只依赖该接口，不依赖具体传输实现。
type Sender interface {
	// Send 发送 method 命令并等待浏览器应答。args、reply 均可为 nil。
	Send(ctx context.Context, method string, args, reply any) error
}

// ConnSender 基于 rpcc 双工连接的 Sender 实现
type ConnSender struct {
	conn *rpcc.Conn
}

// NewConnSender 创建 rpcc 连接上的命令发送器
func NewConnSender(conn *rpcc.Conn) *ConnSender {
	return &ConnSender{conn: conn}
}

// Send 通过 rpcc.Invoke 发送原始命令
func (s *ConnSender) Send(ctx context.Context, method string, args, reply any) error {
	if err := rpcc.Invoke(ctx, method, args, reply, s.conn); err != nil {
		return wrapCommandError(method, err)
	}
	return nil
}
