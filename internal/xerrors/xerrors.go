// Package xerrors implements the engine's error taxonomy (spec.md §7):
// namespaced codes, a causal chain, bilingual messages, and derivation of
// an HTTP status class for API callers.
package xerrors

import (
	"fmt"
	"net/http"
)

// Code is one of the exhaustive taxonomy entries of spec.md §7, namespaced
// as "<SUBSYSTEM>_<NNNN>".
type Code string

const (
	CodeNodeCheckFailed               Code = "BACKTEST_STRATEGY_1001"
	CodeNodeInitFailed                Code = "BACKTEST_STRATEGY_1002"
	CodeNodeStopFailed                Code = "BACKTEST_STRATEGY_1003"
	CodeNodeInitTimeout               Code = "BACKTEST_STRATEGY_1004"
	CodeNodeStopTimeout               Code = "BACKTEST_STRATEGY_1005"
	CodeNodeStateNotReady             Code = "BACKTEST_STRATEGY_1006"
	CodeNodeNotFound                  Code = "BACKTEST_STRATEGY_1007"
	CodeNodeCycleDetected             Code = "BACKTEST_STRATEGY_1008"
	CodeWaitAllNodesStoppedTimeout    Code = "BACKTEST_STRATEGY_1009"
	CodeAlreadyPlaying                Code = "BACKTEST_STRATEGY_1010"
	CodeAlreadyPausing                Code = "BACKTEST_STRATEGY_1011"
	CodePlayFinished                  Code = "BACKTEST_STRATEGY_1012"
	CodeKlineKeyNotFound              Code = "BACKTEST_KLINE_2001"
	CodePlayIndexOutOfRange           Code = "BACKTEST_KLINE_2002"
	CodePendingUpdateKlineNotExist    Code = "BACKTEST_KLINE_2003"
	CodeKlineTimestampNotEqual        Code = "BACKTEST_KLINE_2004"
	CodeInsufficientKlineData         Code = "BACKTEST_KLINE_2005"
	CodeNoMinIntervalSymbol           Code = "BACKTEST_KLINE_2006"
	CodeGetMinIntervalFromStrategyFailed Code = "BACKTEST_KLINE_2007"
	CodeCustomVariableNotExist        Code = "BACKTEST_VARIABLE_3001"
	CodeUnsupportedVariableOperation  Code = "BACKTEST_VARIABLE_3002"
	CodeDivideByZero                  Code = "BACKTEST_VARIABLE_3003"
	CodeOnlyOneDirectionSupported     Code = "BACKTEST_TRADING_4001"
	CodePositionNotFound              Code = "BACKTEST_TRADING_4002"
	CodeCloseQuantityExceedsPosition  Code = "BACKTEST_TRADING_4003"
	CodeStrategyCmdSendFailed         Code = "BACKTEST_STRATEGY_1013"
	CodeStrategyCmdRespRecvFailed     Code = "BACKTEST_STRATEGY_1014"
	CodeTimeRangeNotConfigured        Code = "BACKTEST_STRATEGY_1015"
)

// messages holds the English/Chinese message templates per code, matching
// the teacher's bilingual-ready event payloads.
var messages = map[Code][2]string{
	CodeNodeCheckFailed:                  {"node check failed", "节点检查失败"},
	CodeNodeInitFailed:                   {"node init failed", "节点初始化失败"},
	CodeNodeStopFailed:                   {"node stop failed", "节点停止失败"},
	CodeNodeInitTimeout:                  {"node init timed out", "节点初始化超时"},
	CodeNodeStopTimeout:                  {"node stop timed out", "节点停止超时"},
	CodeNodeStateNotReady:                {"node state not ready", "节点状态未就绪"},
	CodeNodeNotFound:                     {"node not found", "未找到节点"},
	CodeNodeCycleDetected:                {"cycle detected in strategy graph", "策略图中检测到环"},
	CodeWaitAllNodesStoppedTimeout:       {"timed out waiting for all nodes to stop", "等待所有节点停止超时"},
	CodeAlreadyPlaying:                   {"strategy is already playing", "策略已在运行"},
	CodeAlreadyPausing:                   {"strategy is already paused", "策略已暂停"},
	CodePlayFinished:                     {"strategy has finished playing", "策略已播放完成"},
	CodeKlineKeyNotFound:                 {"kline key not found", "未找到K线键"},
	CodePlayIndexOutOfRange:              {"play index out of range", "播放索引越界"},
	CodePendingUpdateKlineNotExist:       {"pending kline to update does not exist", "待更新的K线不存在"},
	CodeKlineTimestampNotEqual:           {"kline timestamp does not match previous kline", "K线时间戳与前一根不一致"},
	CodeInsufficientKlineData:            {"insufficient kline data", "K线数据不足"},
	CodeNoMinIntervalSymbol:              {"no minimum interval symbol configured", "未配置最小周期交易对"},
	CodeGetMinIntervalFromStrategyFailed: {"failed to get minimum interval from strategy", "获取最小周期失败"},
	CodeCustomVariableNotExist:           {"custom variable does not exist", "自定义变量不存在"},
	CodeUnsupportedVariableOperation:     {"unsupported variable operation", "不支持的变量操作"},
	CodeDivideByZero:                     {"division by zero", "除数为零"},
	CodeOnlyOneDirectionSupported:        {"only one position direction is supported per symbol", "每个交易对只支持一个持仓方向"},
	CodePositionNotFound:                 {"no open position for symbol/side", "该交易对/方向没有持仓"},
	CodeCloseQuantityExceedsPosition:     {"close quantity exceeds open position quantity", "平仓数量超过持仓数量"},
	CodeStrategyCmdSendFailed:            {"failed to send command to strategy", "向策略发送命令失败"},
	CodeStrategyCmdRespRecvFailed:        {"failed to receive command response", "接收命令响应失败"},
	CodeTimeRangeNotConfigured:           {"time range not configured", "未配置时间范围"},
}

// Error is the engine's structured error: a code, a cause chain, and
// bilingual messages, with HTTP status derived from the code's category.
type Error struct {
	code   Code
	fields map[string]string
	cause  error
	chain  []Code
}

// New creates a root Error for code, annotated with the given fields.
func New(code Code, fields map[string]string) *Error {
	return &Error{code: code, fields: fields, chain: []Code{code}}
}

// Wrap creates an Error for code whose cause is err, extending the causal
// chain if err is itself an *Error.
func Wrap(code Code, err error, fields map[string]string) *Error {
	e := &Error{code: code, fields: fields, cause: err, chain: []Code{code}}
	if prev, ok := err.(*Error); ok {
		e.chain = append(e.chain, prev.chain...)
	}
	return e
}

func (e *Error) Error() string {
	msg := e.Message()
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, msg)
}

// Unwrap exposes the cause for errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.cause }

// Code returns the error's own code (not the full chain).
func (e *Error) Code() Code { return e.code }

// Chain returns the codes accumulated from the causal source: this
// error's own code first, the innermost cause's code last.
func (e *Error) Chain() []Code { return e.chain }

// Message renders the English message, substituting any fields.
func (e *Error) Message() string { return e.render(0) }

// MessageZH renders the Chinese message, substituting any fields.
func (e *Error) MessageZH() string { return e.render(1) }

func (e *Error) render(idx int) string {
	pair, ok := messages[e.code]
	if !ok {
		return string(e.code)
	}
	msg := pair[idx]
	for k, v := range e.fields {
		msg += fmt.Sprintf(" (%s=%s)", k, v)
	}
	return msg
}

// HTTPStatus derives a 4xx/5xx class from the error's code, matching
// spec.md §7's "4xx for config/user-input, 5xx for internal/timeout" rule.
func (e *Error) HTTPStatus() int {
	switch e.code {
	case CodeNodeNotFound, CodeKlineKeyNotFound, CodePlayIndexOutOfRange,
		CodeCustomVariableNotExist, CodeUnsupportedVariableOperation,
		CodeOnlyOneDirectionSupported, CodeAlreadyPlaying, CodeAlreadyPausing,
		CodePlayFinished, CodeTimeRangeNotConfigured, CodeNoMinIntervalSymbol,
		CodeNodeCycleDetected, CodePositionNotFound, CodeCloseQuantityExceedsPosition:
		return http.StatusBadRequest
	case CodeNodeInitTimeout, CodeNodeStopTimeout, CodeWaitAllNodesStoppedTimeout,
		CodeStrategyCmdSendFailed, CodeStrategyCmdRespRecvFailed:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
