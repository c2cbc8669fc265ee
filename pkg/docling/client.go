// Package docling 提供了一个与 docling-serve 文档解析服务交互的客户端。
package docling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"sync"

	"zhiwen-go/internal/config"
	"zhiwen-go/pkg/log"
)

// Converter 是 docling-serve 的客户端，负责结构化解析 PDF。
type Converter struct {
	serverURL string
	client    *http.Client
}

// Block 是解析结果中的一个内容块。
// Label 为 docling 标注的块类型，例如 section_header、text、list_item。
type Block struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Document 是结构化解析结果。
type Document struct {
	Title  string  `json:"title"`
	Blocks []Block `json:"blocks"`
}

var (
	converterOnce sync.Once
	converter     *Converter
)

// GetConverter 返回全局唯一的 Converter 实例，首次调用时创建。
// 惰性初始化避免在不处理 PDF 的进程路径上建立连接。
func GetConverter(cfg config.DoclingConfig) *Converter {
	converterOnce.Do(func() {
		converter = &Converter{
			serverURL: cfg.ServerURL,
			client:    &http.Client{},
		}
		log.Infof("[Docling] 转换器已初始化, server: %s", cfg.ServerURL)
	})
	return converter
}

type convertResponse struct {
	Document struct {
		Name  string `json:"name"`
		Texts []struct {
			Label string `json:"label"`
			Text  string `json:"text"`
		} `json:"texts"`
	} `json:"document"`
	Status string `json:"status"`
}

// Convert 将文件内容提交给 docling-serve 做结构化解析。
func (c *Converter) Convert(ctx context.Context, data []byte, filename string) (*Document, error) {
	log.Infof("[Docling] 开始解析文件: %s, size: %d", filename, len(data))

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("files", filename)
	if err != nil {
		return nil, fmt.Errorf("构建上传表单失败: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("写入上传表单失败: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("关闭上传表单失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.serverURL+"/v1alpha/convert/file", &body)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用 docling 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("docling 返回错误 [%d]: %s", resp.StatusCode, string(respBody))
	}

	var convResp convertResponse
	if err := json.NewDecoder(resp.Body).Decode(&convResp); err != nil {
		return nil, fmt.Errorf("解析 docling 响应失败: %w", err)
	}
	if convResp.Status != "" && convResp.Status != "success" {
		return nil, fmt.Errorf("docling 解析失败, status: %s", convResp.Status)
	}

	doc := &Document{Title: convResp.Document.Name}
	for _, t := range convResp.Document.Texts {
		if t.Text == "" {
			continue
		}
		doc.Blocks = append(doc.Blocks, Block{Label: t.Label, Text: t.Text})
	}

	log.Infof("[Docling] 文件解析成功: %s, blocks: %d", filename, len(doc.Blocks))
	return doc, nil
}

// DetectMimeType 根据文件扩展名判断 Content-Type。
func DetectMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		return "application/octet-stream"
	}
	return mimeType
}
