package decision

import (
	"errors"
	"fmt"
	"strings"
)

// 中文说明：
// 统一动作协议。所有上游（量化、LLM、规则回退）的动作标签
// 都必须经过 NormalizeAction 收敛到六个标准值之一，之后的
// 路由、风控、执行只认标准值。

// Action 标准交易动作。
type Action string

const (
	ActionOpenLong   Action = "open_long"
	ActionOpenShort  Action = "open_short"
	ActionCloseLong  Action = "close_long"
	ActionCloseShort Action = "close_short"
	ActionWait       Action = "wait"
	ActionHold       Action = "hold"
)

// ErrInvalidAction 表示动作标签不在识别词表内。
var ErrInvalidAction = errors.New("invalid action")

// actionAliases 识别词表：只枚举，不做模糊推断。
var actionAliases = map[string]Action{
	"open_long":   ActionOpenLong,
	"long":        ActionOpenLong,
	"buy":         ActionOpenLong,
	"go_long":     ActionOpenLong,
	"open_short":  ActionOpenShort,
	"short":       ActionOpenShort,
	"sell":        ActionOpenShort,
	"go_short":    ActionOpenShort,
	"close_long":  ActionCloseLong,
	"exit_long":   ActionCloseLong,
	"close_short": ActionCloseShort,
	"exit_short":  ActionCloseShort,
	"wait":        ActionWait,
	"skip":        ActionWait,
	"hold":        ActionHold,
}

// genericClose 需要结合持仓方向才能确定方向的平仓别名。
var genericClose = map[string]bool{
	"close":          true,
	"exit":           true,
	"close_position": true,
}

// NormalizeAction 把任意动作拼写收敛到标准动作。
// positionSide 为当前持仓方向（"long"/"short"，无持仓传空串），
// 用于解析不带方向的 close；无持仓时 close 收敛为 wait。
// 对已是标准值的输入幂等。
func NormalizeAction(raw string, positionSide string) (Action, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return ActionWait, fmt.Errorf("%w: 空动作", ErrInvalidAction)
	}
	if act, ok := actionAliases[key]; ok {
		return act, nil
	}
	if genericClose[key] {
		switch strings.ToLower(strings.TrimSpace(positionSide)) {
		case "long", "open_long":
			return ActionCloseLong, nil
		case "short", "open_short":
			return ActionCloseShort, nil
		default:
			// 无持仓时的泛化 close 没有可平方向，视为观望。
			return ActionWait, nil
		}
	}
	return ActionWait, fmt.Errorf("%w: %q", ErrInvalidAction, raw)
}

// IsOpen 是否开仓动作。
func (a Action) IsOpen() bool {
	return a == ActionOpenLong || a == ActionOpenShort
}

// IsClose 是否平仓动作。
func (a Action) IsClose() bool {
	return a == ActionCloseLong || a == ActionCloseShort
}

// Side 返回动作对应的方向（"long"/"short"，wait/hold 返回空串）。
func (a Action) Side() string {
	switch a {
	case ActionOpenLong, ActionCloseLong:
		return "long"
	case ActionOpenShort, ActionCloseShort:
		return "short"
	default:
		return ""
	}
}

// CloseFor 返回平掉指定方向持仓的动作。
func CloseFor(side string) Action {
	if strings.ToLower(strings.TrimSpace(side)) == "short" {
		return ActionCloseShort
	}
	return ActionCloseLong
}
