package database

import (
	"net"
	"pii-audit-go/internal/config"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitRedisDisabled(t *testing.T) {
	client, err := InitRedis(config.RedisConfig{Enabled: false, Addr: "127.0.0.1:6379"})
	require.NoError(t, err)
	require.Nil(t, client)
	require.Nil(t, RDB)
}

func TestInitRedisUnreachableReturnsError(t *testing.T) {
	// 占用一个端口后立即释放，确保该地址上没有监听者
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	client, err := InitRedis(config.RedisConfig{Enabled: true, Addr: addr})
	require.Error(t, err)
	require.Contains(t, err.Error(), addr)
	require.Nil(t, client)
	require.Nil(t, RDB)
}
