// Package types 定义控制面共享的领域类型与节点代理使用的线上格式。
package types
