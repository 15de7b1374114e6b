// Package biz 提供文档问答的业务逻辑层。
//
// 该包把检索增强生成拆分为以下组件：
//   - Loader: 读取文档，按页产出原始文本段
//   - Chunker: 按字符窗口切分文本段，相邻切片保留重叠
//   - VectorIndex: 向量化切片并按余弦相似度检索
//   - Builder: 按文件列表构建知识库并缓存
//   - Engine: 持有会话历史，检索上下文并调用模型生成答案
//   - Service: 组合以上组件，按 ID 管理会话
package biz

const tracerName = "github.com/kart-io/docmind/internal/docmind/biz"
