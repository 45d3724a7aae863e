// Package logx is a thin zerolog wrapper shared by all components.
//
// It exposes a Logger value type with slog-like Field helpers and a
// Service whose sinks and level can be swapped at runtime (config hot
// reload) without invalidating loggers already handed out.
package logx
