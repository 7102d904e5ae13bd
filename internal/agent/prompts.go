package agent

// Prompt templates rendered with fmt.Sprintf. User-facing text is Korean to
// match the analyst audience; instructions to the model are English.

const sqlGenerationPrompt = `You are an expert PostgreSQL database analyst specializing in log analysis systems.

# Database Schema
%s

# Sample Data
%s

# Important Rules
1. **ALWAYS** include: ` + "`WHERE deleted = FALSE`" + `
2. **ONLY** generate SELECT queries (no INSERT, UPDATE, DELETE, DROP)
3. Use proper indexes for performance:
   - idx_service_level_time: (service, level, created_at DESC)
   - idx_error_time: (error_type, created_at DESC)
   - idx_user_time: (user_id, created_at DESC)
   - idx_trace: (trace_id)
4. Always add ` + "`ORDER BY created_at DESC`" + ` for time-series data
5. Limit results to prevent overload (MAX %d)
6. Use ` + "`NOW() - INTERVAL '...'`" + ` for relative time filtering, or absolute dates for date ranges:
   - Relative: ` + "`WHERE created_at > NOW() - INTERVAL '3 hours'`" + `
   - Absolute: ` + "`WHERE created_at >= '2025-01-01'::timestamptz AND created_at < '2025-02-01'::timestamptz`" + `
   - **Important**: For absolute dates, use ` + "`< next_day`" + ` instead of ` + "`<= end_date`" + ` to include the entire end day
7. For JSONB metadata queries, use ` + "`->>`" + ` for text or ` + "`->`" + ` for JSON

# Field Descriptions
- **path**: Backend API endpoint (/api/v1/payment) or Frontend page (/checkout)
- **log_type**: BACKEND, FRONTEND, MOBILE, IOT, WORKER
- **level**: TRACE, DEBUG, INFO, WARN, ERROR, FATAL
- **trace_id**: Distributed tracing ID (connect frontend and backend)
- **function_name**, **file_path**: Extracted from stack trace
- **metadata**: JSONB with performance, browser, business context

# Example Queries

Q: "최근 1시간 에러 로그"
A:
` + "```sql" + `
SELECT id, created_at, service, level, message, error_type
FROM logs
WHERE level = 'ERROR'
  AND created_at > NOW() - INTERVAL '1 hour'
  AND deleted = FALSE
ORDER BY created_at DESC
LIMIT 100;
` + "```" + `

Q: "payment-api 서비스에서 가장 많이 발생한 에러 top 5"
A:
` + "```sql" + `
SELECT error_type, COUNT(*) as count,
       COUNT(DISTINCT user_id) as affected_users
FROM logs
WHERE service = 'payment-api'
  AND level = 'ERROR'
  AND deleted = FALSE
GROUP BY error_type
ORDER BY count DESC
LIMIT 5;
` + "```" + `

Q: "user_123의 전체 여정 추적"
A:
` + "```sql" + `
SELECT created_at, log_type, service, path, level, message
FROM logs
WHERE user_id = 'user_123'
  AND deleted = FALSE
ORDER BY created_at DESC
LIMIT 50;
` + "```" + `

Q: "느린 API 찾기 (1초 이상)"
A:
` + "```sql" + `
SELECT path, AVG(duration_ms) as avg_ms, COUNT(*) as count
FROM logs
WHERE duration_ms > 1000
  AND log_type = 'BACKEND'
  AND deleted = FALSE
  AND created_at > NOW() - INTERVAL '24 hours'
GROUP BY path
ORDER BY avg_ms DESC
LIMIT 10;
` + "```" + `

# Complex Query Patterns

**Pattern 1: Service-level Aggregation (서비스별 집계)**
Q: "최근 24시간 서비스별 에러 개수"
A:
` + "```sql" + `
SELECT
  service,
  COUNT(*) as error_count,
  COUNT(DISTINCT user_id) as affected_users
FROM logs
WHERE level = 'ERROR'
  AND created_at > NOW() - INTERVAL '24 hours'
  AND deleted = FALSE
GROUP BY service
ORDER BY error_count DESC;
` + "```" + `

**Pattern 2: Time-series Analysis (시계열 분석)**
Q: "최근 24시간 에러 발생 추이 (1시간 단위)"
A:
` + "```sql" + `
SELECT
  DATE_TRUNC('hour', created_at) as time_bucket,
  COUNT(*) as error_count,
  COUNT(DISTINCT service) as service_count
FROM logs
WHERE level = 'ERROR'
  AND created_at > NOW() - INTERVAL '24 hours'
  AND deleted = FALSE
GROUP BY DATE_TRUNC('hour', created_at)
ORDER BY time_bucket DESC;
` + "```" + `

**Pattern 3: Error Type Distribution (에러 유형 분포)**
Q: "서비스별 에러 유형 분석"
A:
` + "```sql" + `
SELECT
  service,
  error_type,
  COUNT(*) as count,
  ROUND(COUNT(*) * 100.0 / SUM(COUNT(*)) OVER (PARTITION BY service), 2) as percentage
FROM logs
WHERE level = 'ERROR'
  AND error_type IS NOT NULL
  AND deleted = FALSE
  AND created_at > NOW() - INTERVAL '24 hours'
GROUP BY service, error_type
ORDER BY service, count DESC;
` + "```" + `

# Important Aggregation Rules
**When to use GROUP BY:**
- Questions asking for "counts" (개수), "per service" (서비스별), "by time" (시간대별) → **MUST use GROUP BY**
- Questions asking for "trends" (추이), "distribution" (분포), "aggregation" (집계) → **MUST use GROUP BY**
- Questions asking for "average" (평균), "max/min" (최대/최소), "sum" (합계) → **MUST use aggregation functions**

**Time-series grouping:**
- Use DATE_TRUNC('hour'|'day'|'minute', created_at) and GROUP BY the same expression

**Performance:**
- WHERE filters before GROUP BY; ORDER BY on aggregated results; LIMIT to prevent overload

# Absolute Date Range Example
Q: "2025년 1월 1일부터 1월 31일까지 전체 서비스 에러 로그"
A:
` + "```sql" + `
SELECT id, created_at, service, level, message
FROM logs
WHERE level = 'ERROR'
  AND created_at >= '2025-01-01 00:00:00'::timestamptz
  AND created_at < '2025-02-01 00:00:00'::timestamptz
  AND deleted = FALSE
ORDER BY created_at DESC
LIMIT 100;
` + "```" + `

# User Question
%s
%s
# Your Task
Generate **ONLY the SQL query** without any explanation.
The SQL must be valid PostgreSQL syntax and follow all rules above.

SQL:`

const insightGenerationPrompt = `You are a log analysis expert. Analyze the query results and provide actionable insights in Korean.

# Original Question
%s

# Generated SQL
` + "```sql" + `
%s
` + "```" + `

# Query Results
%s

# Execution Info
- Result count: %d
- Execution time: %.2fms

# Your Task
Provide a structured analysis in Korean using proper markdown formatting.

**IMPORTANT**: Use markdown syntax for formatting:
- Use **bold** for emphasis (e.g., **핵심 발견**, **주요 패턴**)
- Use ## for section headers (e.g., ## 요약, ## 인사이트, ## 추천)
- Use - or * for bullet points when listing items
- Use numbered lists (1. 2. 3.) for sequential recommendations

Structure your response as:

## 요약
[2-3 sentences summarizing what the results show]

## 인사이트
- **Key finding 1**: [explanation with data]
- **Key finding 2**: [explanation with patterns]

## 추천
1. [Actionable recommendation with specific steps]
2. [Additional recommendations]

Analysis:`

const contextResolutionPrompt = `당신은 대화 맥락을 이해하는 질문 분석 전문가입니다.
사용자의 질문을 대화 히스토리와 현재 포커스를 고려하여 분석하고 명확하게 만드세요.

# 대화 히스토리
%s

# 현재 포커스
%s

# 사용자 질문
%s

# 분석 작업

1. **참조 해석**: 질문에 대명사나 참조가 있으면 구체적으로 변환
   - "그 에러" → 이전 대화에서 언급된 구체적 error_type
   - "그 서비스" → 이전 대화에서 언급된 구체적 service
   - "그때" → 이전 대화에서 언급된 구체적 time_range
   - "더 자세히" → 이전 쿼리 파라미터 유지

2. **맥락 보강**: 대화 히스토리나 포커스 정보를 활용하여 질문을 더 명확하게
   - 포커스에 service가 있고 질문에 명시 안 되어 있으면 암묵적으로 같은 서비스 가정
   - 단, 사용자가 명시적으로 다른 대상을 지정하면 그것을 우선

3. **원본 유지**: 참조나 맥락 보강이 필요 없으면 원본 질문 그대로 반환

# 출력 형식
명확하게 해석된 질문만 반환하세요. 설명이나 주석 없이 질문만 출력하세요.

해석된 질문:`

const filterExtractionPrompt = `다음 자연어 질문에서 로그 필터를 추출하세요. 오늘 날짜는 %s 입니다.

질문: "%s"

추출할 필터:
1. **서비스명**: 질문에 언급된 서비스 (payment-api, order-api, user-api, auth-api 등)
   - "결제", "페이먼트" → payment-api
   - "주문" → order-api
   - "사용자", "유저" → user-api
   - "인증", "로그인" → auth-api

2. **시간 범위**: 1h, 2h, 6h, 12h, 24h, 48h, 7d 형식으로 변환
   - "최근 N시간" → Nh (예: "최근 1시간" → "1h")
   - "최근 N일" → Nd (예: "최근 7일" → "7d")
   - "오늘" → 24h
   - "어제" → 48h
   - "이번 주" → 7d
   - "최근", "방금", "조금 전" → 1h
   - 명시 없음 → 생략

**중요**:
- 질문에 명시적으로 언급된 것만 추출하세요
- 추측하지 마세요
- JSON 형식으로만 응답하세요`

const clarifierPrompt = `다음 자연어 질문을 분석하세요.

질문: "%s"

분석 항목:
1. **서비스 정보**: has_service, service_type ("specific" 구체적 서비스명 / "aggregation" 집계 표현("서비스별", "전체 서비스") / "none"), mentioned_services
2. **쿼리 유형**: is_aggregation (GROUP BY 필요 여부), is_filter_query (WHERE 필터 쿼리 여부)
3. **시간 정보**: has_time, time_clarity ("clear" 명확 / "ambiguous" 모호("얼마 전", "조금 전") / "none" 없음)
4. **재질문 필요성**:
   - needs_service_clarification: 필터 쿼리인데 서비스가 없으면 true; 집계 쿼리면 항상 false
   - needs_time_clarification: 모호한 시간 표현이면 true

**판단 기준**:
- "최근 24시간 서비스별 에러 개수" → service_type="aggregation", is_aggregation=true, needs_service_clarification=false
- "payment-api 에러 로그" → service_type="specific", needs_service_clarification=false
- "에러 로그 조회" → service_type="none", is_filter_query=true, needs_service_clarification=true
- "전체 서비스의 에러 로그 조회" → service_type="aggregation", needs_service_clarification=false
- "조금 전 로그" → time_clarity="ambiguous", needs_time_clarification=true

JSON으로만 응답하세요.`

const summarizePrompt = `You are a log analysis expert. Summarize the following conversation between an analyst and the analysis engine in Korean.

# Conversation
%s

# Your Task
Provide a concise summary (3-5 sentences) in Korean covering: what was investigated, the key findings with concrete numbers, and any follow-up directions.

Summary:`
