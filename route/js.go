package route

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// jsHandler drives the scripted analysis pipeline: raw app payload in,
// categorized bill record out. Scripts are stored in settings under the
// "server" app and evaluated one sandbox instance per run.
type jsHandler struct {
	d *Deps
}

func (h *jsHandler) Handle(function string, data map[string]any) any {
	switch function {
	case "analyze":
		return h.analyze(data)
	case "run":
		return h.evaluate(str(data, "js"))
	default:
		return success()
	}
}

func (h *jsHandler) analyze(data map[string]any) any {
	raw := str(data, "data")
	app := str(data, "app")
	dataType := asInt(data["type"])
	call := asInt(data["call"])

	now := h.d.now()
	epoch := now.Unix()

	// Caller-originated requests leave a provisional capture row even when
	// extraction later fails, so misses stay inspectable.
	var dataID int64
	var capture map[string]any
	if call == 1 {
		capture = map[string]any{
			"data":   raw,
			"source": app,
			"time":   epoch,
			"type":   dataType,
			"match":  0,
			"rule":   "",
			"issue":  0,
		}
		id, err := h.d.Store.Insert("appData", capture)
		if err != nil {
			h.d.Logger.Error("capture insert failed", "app", app, "error", err)
		} else {
			dataID = id
			if err := h.d.Store.TrimAppData(); err != nil {
				h.d.Logger.Error("appData trim failed", "error", err)
			}
		}
	}

	script := h.setting(fmt.Sprintf("%s%d_rule", app, dataType))
	if script == "" {
		script = h.setting("rule_js")
	}
	if script == "" {
		h.d.Logger.Error("extraction script not found", "app", app, "type", dataType)
		return map[string]any{}
	}

	extracted := h.evaluate(composeExtraction(raw, script))
	h.d.Logger.Info("extraction result", "result", extracted)
	record, err := decodeRecord(extracted)
	if err != nil {
		h.d.Logger.Error("extraction result unparseable", "result", extracted)
		return "json parse error"
	}

	channel := asString(record["channel"])
	ruleName := channel
	if i := strings.Index(ruleName, "-"); i >= 0 {
		ruleName = ruleName[:i]
	}
	ruleName = strings.TrimSpace(ruleName)
	h.d.Logger.Info("matched channel", "channel", channel, "rule", ruleName)
	ruleRow := h.ruleByName(ruleName)

	if call == 1 && dataID > 0 {
		capture["match"] = 1
		capture["rule"] = channel
		if _, err := h.d.Store.Update("appData", dataID, capture); err != nil {
			h.d.Logger.Error("capture update failed", "id", dataID, "error", err)
		}
	}

	cateJs := h.setting("cate_js")
	if cateJs == "" {
		h.d.Logger.Error("category script not found")
		return map[string]any{}
	}
	customJs := h.setting("custom_js")

	money := asFloat(record["money"])
	billType := asInt(record["type"])
	shopName := strings.ReplaceAll(asString(record["shopName"]), "'", `"`)
	shopItem := strings.ReplaceAll(asString(record["shopItem"]), "'", `"`)
	clock := now.Format("15:04")

	categorized := h.evaluate(composeCategory(money, billType, shopName, shopItem, clock, customJs, cateJs))
	h.d.Logger.Info("category result", "result", categorized)
	categoryRecord, err := decodeRecord(categorized)
	if err != nil {
		h.d.Logger.Error("category result unparseable", "result", categorized)
		return "json parse error"
	}

	record["bookName"] = asString(categoryRecord["book"])
	record["cateName"] = asString(categoryRecord["category"])
	record["time"] = epoch
	record["fromApp"] = app
	record["auto"] = int64(0)
	if ruleRow != nil {
		record["auto"] = asInt(ruleRow["auto_record"])
	}

	if call == 1 {
		h.persist(record)
	}
	return record
}

// persist stores the finished bill, trims the backlog and announces the new
// id on the bus so the floating confirmation window can come up.
func (h *jsHandler) persist(record map[string]any) {
	id, err := h.d.Store.Insert("billInfo", record)
	if err != nil {
		h.d.Logger.Error("bill insert failed", "error", err)
		return
	}
	if err := h.d.Store.TrimSyncedBills(); err != nil {
		h.d.Logger.Error("bill trim failed", "error", err)
	}
	if err := h.d.Store.DeleteDanglingChildren(); err != nil {
		h.d.Logger.Error("dangling bill cleanup failed", "error", err)
	}
	if h.d.Events == nil {
		return
	}
	if err := h.d.Events.Publish(context.Background(), TopicBillAnalyzed, map[string]any{"id": id}); err != nil {
		h.d.Logger.Error("bill event publish failed", "id", id, "error", err)
	}
}

// evaluate runs src through a fresh sandbox and counts the outcome.
func (h *jsHandler) evaluate(src string) string {
	out := h.d.Sandbox.Run(src)
	if h.d.Metrics != nil {
		status := "ok"
		if out == "" {
			status = "empty"
		}
		h.d.Metrics.RecordScriptEvaluation(status)
	}
	return out
}

func (h *jsHandler) setting(key string) string {
	rows, err := h.d.Store.SelectConditional("settings", "app = ? AND key = ?", "server", key)
	if err != nil || len(rows) == 0 {
		return ""
	}
	return asString(rows[0]["val"])
}

func (h *jsHandler) ruleByName(name string) map[string]any {
	if name == "" {
		return nil
	}
	rows, err := h.d.Store.Page("rule", 1, 1, "name = ?", []any{name}, "id DESC")
	if err != nil || len(rows) == 0 {
		return nil
	}
	return rows[0]
}

func decodeRecord(s string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("not an object")
	}
	return m, nil
}

// composeExtraction wraps the stored extraction script with the payload
// binding and the rule iterator the scripts are written against.
func composeExtraction(raw, script string) string {
	var b strings.Builder
	b.WriteString("let window = {};\n")
	b.WriteString(" window.data = JSON.parse('")
	b.WriteString(raw)
	b.WriteString("');\n")
	b.WriteString(script)
	b.WriteString(extractionIterator)
	return b.String()
}

const extractionIterator = `
const data = window.data || '';

const rules = window.rules || [];

for (const rule of rules) {
  let result = null;
  try {
    result = rule.obj.get(data);
    if (
      result !== null &&
      result.money !== null &&
      parseFloat(result.money) > 0
    ) {
      result.ruleName = rule.name;
      print(JSON.stringify(result));
      break;
    }
  } catch (e) {
    print(e.message);
  }
}
`

// composeCategory binds the extracted fields into window, layers the user's
// custom script over the synced category script and prints whichever decides
// first. The single-quoted bindings are why shopName and shopItem have their
// quotes rewritten before composition.
func composeCategory(money float64, billType int64, shopName, shopItem, clock, customJs, cateJs string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "var window = {money:%s, type:%d, shopName:'%s', shopItem:'%s', time:'%s'};\n",
		strconv.FormatFloat(money, 'f', -1, 64), billType, shopName, shopItem, clock)
	b.WriteString("function getCategory(money,type,shopName,shopItem,time){ ")
	b.WriteString(customJs)
	b.WriteString(" return null};\n")
	b.WriteString("var categoryInfo = getCategory(window.money,window.type,window.shopName,window.shopItem,window.time);")
	b.WriteString("if(categoryInfo !== null) { print(JSON.stringify(categoryInfo));  } else { ")
	b.WriteString(cateJs)
	b.WriteString(" print(JSON.stringify(category.get(money, type, shopName, shopItem, time)));}")
	return b.String()
}
