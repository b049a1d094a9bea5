package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"backend/internal/config"
	"backend/internal/metrics"
	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// Client 任务队列客户端接口
type Client interface {
	EnqueueRun(runID, tenantID string) error
	Close() error
}

type asynqClient struct {
	client *asynq.Client
}

// NewClient 创建任务队列客户端
func NewClient(cfg config.RedisConfig) Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &asynqClient{client: client}
}

// EnqueueRun 将已落库的 Run 入队执行。
// 队列保证至少一次投递；应用层不重试（MaxRetry 0），
// 执行失败在 Run 状态里体现，幂等由动作的 Provenance 机制承担。
func (c *asynqClient) EnqueueRun(runID, tenantID string) error {
	payload, err := json.Marshal(tasks.ExecuteRunPayload{RunID: runID, TenantID: tenantID})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeExecuteRun, payload)

	_, err = c.client.Enqueue(task,
		asynq.MaxRetry(0),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("automation"),
	)
	if err != nil {
		metrics.QueueTasksTotal.WithLabelValues(tasks.TypeExecuteRun, "failed").Inc()
		return fmt.Errorf("enqueue task failed: %w", err)
	}

	metrics.QueueTasksTotal.WithLabelValues(tasks.TypeExecuteRun, "enqueued").Inc()
	return nil
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}
