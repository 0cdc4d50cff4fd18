// Package migrations 内嵌离线队列的 sqlite 表结构迁移脚本。
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
