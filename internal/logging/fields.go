package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// FetchFields 提供 url/状态字段，供网关请求日志复用。
func FetchFields(action, url string, status int) logrus.Fields {
	return logrus.Fields{
		"action": action,
		"url":    url,
		"status": status,
	}
}
