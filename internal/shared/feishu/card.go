package feishu

import (
	"context"
	"encoding/json"
	"fmt"
)

// SendCard 向群聊发送消息卡片
func (c *FeishuClient) SendCard(ctx context.Context, chatID string, card InteractiveCard) error {
	return c.sendCard(ctx, "chat_id", chatID, card)
}

// SendUserCard 向个人发送消息卡片（open_id）
func (c *FeishuClient) SendUserCard(ctx context.Context, userID string, card InteractiveCard) error {
	return c.sendCard(ctx, "open_id", userID, card)
}

func (c *FeishuClient) sendCard(ctx context.Context, idType, id string, card InteractiveCard) error {
	cardBytes, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("序列化卡片内容失败: %w", err)
	}

	reqBody := map[string]interface{}{
		"receive_id": id,
		"msg_type":   "interactive",
		"content":    string(cardBytes),
	}

	path := fmt.Sprintf("/open-apis/im/v1/messages?receive_id_type=%s", idType)

	var resp SendMessageResponse
	if err := c.doRequest(ctx, "POST", path, reqBody, &resp); err != nil {
		return fmt.Errorf("发送消息卡片失败: %w", err)
	}

	return nil
}

// =============================================================================
// 预设卡片模板
// =============================================================================

// NewRescueSessionCard 兜底会话创建通知：有工单产出未匹配到已开启的会话
func NewRescueSessionCard(sessionName, shiftName, productionDate, orderName string) InteractiveCard {
	return InteractiveCard{
		Config: &CardConfig{WideScreenMode: true},
		Header: &CardHeader{
			Title:    CardText{Tag: "plain_text", Content: "⚠️ 兜底会话已创建"},
			Template: "orange",
		},
		Elements: []CardElement{
			{
				Tag: "div",
				Fields: []CardField{
					{IsShort: true, Text: CardText{Tag: "lark_md", Content: fmt.Sprintf("**会话**\n%s", sessionName)}},
					{IsShort: true, Text: CardText{Tag: "lark_md", Content: fmt.Sprintf("**班次**\n%s", shiftName)}},
					{IsShort: true, Text: CardText{Tag: "lark_md", Content: fmt.Sprintf("**生产日期**\n%s", productionDate)}},
					{IsShort: true, Text: CardText{Tag: "lark_md", Content: fmt.Sprintf("**工单**\n%s", orderName)}},
				},
			},
			{Tag: "hr"},
			{
				Tag: "note",
				Elements: []CardElement{
					{Tag: "plain_text", Content: "该工单的产出没有对应的已开启会话，请确认是否遗漏开班"},
				},
			},
		},
	}
}

// NewSessionClosedCard 会话关闭通知
// producedLines: 已达成目标的生产行数
func NewSessionClosedCard(sessionName, shiftName, stopAt string, totalLines, producedLines int) InteractiveCard {
	template := "green"
	if producedLines < totalLines {
		template = "red"
	}

	return InteractiveCard{
		Config: &CardConfig{WideScreenMode: true},
		Header: &CardHeader{
			Title:    CardText{Tag: "plain_text", Content: "✅ 生产会话已关闭"},
			Template: template,
		},
		Elements: []CardElement{
			{
				Tag: "div",
				Fields: []CardField{
					{IsShort: true, Text: CardText{Tag: "lark_md", Content: fmt.Sprintf("**会话**\n%s", sessionName)}},
					{IsShort: true, Text: CardText{Tag: "lark_md", Content: fmt.Sprintf("**班次**\n%s", shiftName)}},
					{IsShort: true, Text: CardText{Tag: "lark_md", Content: fmt.Sprintf("**关闭时间**\n%s", stopAt)}},
					{IsShort: true, Text: CardText{Tag: "lark_md", Content: fmt.Sprintf("**完成工单**\n%d / %d", producedLines, totalLines)}},
				},
			},
		},
	}
}
